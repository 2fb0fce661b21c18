package dm

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/intellect4all/durastore/pager"
	"github.com/intellect4all/durastore/wal"
)

// DataItem is a borrowed, latched view over one [valid][size][data]
// slot inside a pinned page. It must be released exactly once, mirroring
// the page it borrows from the cache.
type DataItem struct {
	dm        *DataManager
	uid       uint64
	pageNo    uint32
	offset    uint16
	page      *pager.Page
	latch     *sync.RWMutex
	exclusive bool

	oldBytes []byte // set by Before
	newBytes []byte // set by SetBytes
}

// Uid returns the item's stable 64-bit identifier.
func (it *DataItem) Uid() uint64 { return it.uid }

func (it *DataItem) size() uint16 {
	return binary.LittleEndian.Uint16(it.page.Data[it.offset+1 : it.offset+3])
}

// Bytes returns a copy of the item's current payload.
func (it *DataItem) Bytes() []byte {
	size := it.size()
	out := make([]byte, size)
	copy(out, it.page.Data[it.offset+3:it.offset+3+size])
	return out
}

// Before snapshots the current payload ahead of an in-place mutation.
// Only valid on a handle obtained via ForUpdate.
func (it *DataItem) Before() []byte {
	it.oldBytes = it.Bytes()
	return it.oldBytes
}

// SetBytes overwrites the payload in place. newData must be exactly as
// long as the item's existing payload: DataItem mutation never changes
// an item's footprint, matching the spec's non-reclaiming page layout.
func (it *DataItem) SetBytes(newData []byte) error {
	size := it.size()
	if len(newData) != int(size) {
		return fmt.Errorf("dm.SetBytes: uid %d: got %d bytes, item holds %d", it.uid, len(newData), size)
	}
	copy(it.page.Data[it.offset+3:it.offset+3+size], newData)
	it.newBytes = append([]byte(nil), newData...)
	return nil
}

// After commits the mutation: emits the Update WAL record, marks the
// page dirty, and releases the exclusive latch and the borrowed page.
func (it *DataItem) After(xid uint64) error {
	rec := wal.UpdateRecord{Xid: xid, Uid: it.uid, OldBytes: it.oldBytes, NewBytes: it.newBytes}
	if err := it.dm.log.Log(rec.Encode()); err != nil {
		return err
	}
	it.page.MarkDirty()
	it.latch.Unlock()
	it.dm.pgr.ReleasePage(it.pageNo)
	if it.dm.metrics != nil {
		it.dm.metrics.DMUpdateTotal.Inc()
	}
	return nil
}

// Release ends a read-only handle obtained via Read. Do not call this on
// a handle that went through Before/SetBytes — use After instead.
func (it *DataItem) Release() {
	if it.exclusive {
		it.latch.Unlock()
	} else {
		it.latch.RUnlock()
	}
	it.dm.pgr.ReleasePage(it.pageNo)
}

// Discard abandons an exclusive handle obtained via ForUpdate without
// emitting a log record, for callers that decided mid-transaction that
// no mutation is needed (e.g. Node.insertAndSplit's sibling-retry path).
func (it *DataItem) Discard() {
	it.latch.Unlock()
	it.dm.pgr.ReleasePage(it.pageNo)
}
