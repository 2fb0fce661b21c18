// Package dm is the public storage API: DataManager allocates slots
// inside pages, hands out stable 64-bit item uids, and routes every
// mutation through the write-ahead log. It is the spec's "everything
// above the Pager rides on this" layer, grounded on the teacher's
// btree.BTree for the shape of the top-level type (owns a pager, a WAL,
// a latch manager, wires recovery at construction) even though the
// byte-level layout here (fixed DataItem headers, size-class free list)
// has no teacher analogue and is built from spec.md §3/§4.4 directly.
package dm

import (
	"encoding/binary"
	"fmt"

	"github.com/intellect4all/durastore/common"
	"github.com/intellect4all/durastore/internal/logging"
	"github.com/intellect4all/durastore/internal/telemetry"
	"github.com/intellect4all/durastore/pager"
	"github.com/intellect4all/durastore/recovery"
	"github.com/intellect4all/durastore/wal"
	"github.com/intellect4all/durastore/xidtable"
)

const (
	pageSize      = pager.PageSize
	pageHeaderLen = 2 // leading free-space offset
	itemHeaderLen = 1 + 2
	maxPayload    = pageSize - pageHeaderLen - itemHeaderLen
)

// DataManager is the engine's storage entry point.
type DataManager struct {
	pgr     *pager.Pager
	log     *wal.Logger
	xids    *xidtable.Table
	pi      *pageIndex
	latches *latchManager
	logger  logging.Component
	metrics *telemetry.Metrics
}

// Config bundles DataManager.Open's tunables.
type Config struct {
	CacheCapacity int
	// Metrics is optional; when set, Insert/Read/update counters and the
	// whole cache/WAL/xid chain beneath it report through it.
	Metrics *telemetry.Metrics
}

// DefaultConfig mirrors the teacher's DefaultConfig helper.
func DefaultConfig() Config {
	return Config{CacheCapacity: 256}
}

// Open opens the three files rooted at basePath (basePath+".db",
// ".log", ".xid"), running crash recovery first if the previous session
// did not shut down cleanly.
func Open(basePath string, cfg Config, logr logging.Component) (*DataManager, error) {
	pgr, cleanShutdown, err := pager.Open(basePath+".db", cfg.CacheCapacity, cfg.Metrics)
	if err != nil {
		return nil, err
	}

	logFile, err := wal.Open(basePath+".log", cfg.Metrics)
	if err != nil {
		pgr.Close()
		return nil, err
	}

	xids, err := xidtable.Open(basePath+".xid", cfg.Metrics)
	if err != nil {
		logFile.Close()
		pgr.Close()
		return nil, err
	}

	dm := &DataManager{
		pgr:     pgr,
		log:     logFile,
		xids:    xids,
		pi:      newPageIndex(),
		latches: newLatchManager(),
		logger:  logr,
		metrics: cfg.Metrics,
	}

	if !cleanShutdown {
		logr.Warn("clean-shutdown witness absent, running recovery")
		hi, err := recovery.Run(logFile, xids, dm)
		if err != nil {
			dm.Close()
			return nil, fmt.Errorf("dm.Open: recovery: %w", err)
		}
		if hi > 0 && hi < pgr.NumPages() {
			if err := pgr.TruncateByPgNo(hi); err != nil {
				dm.Close()
				return nil, err
			}
		}
		if err := pgr.MarkCleanNow(); err != nil {
			dm.Close()
			return nil, err
		}
		logr.Info("recovery complete")
	}

	if err := dm.rebuildPageIndex(); err != nil {
		dm.Close()
		return nil, err
	}

	return dm, nil
}

func (d *DataManager) rebuildPageIndex() error {
	n := d.pgr.NumPages()
	for pn := pager.MetaPageNo + 1; pn <= n; pn++ {
		page, err := d.pgr.GetPage(pn)
		if err != nil {
			return err
		}
		free := pageSize - int(page.FreeOffset())
		d.pgr.ReleasePage(pn)
		if free >= itemHeaderLen {
			d.pi.Add(pn, free)
		}
	}
	return nil
}

func (d *DataManager) allocatePage() (uint32, error) {
	initial := make([]byte, pageSize)
	binary.LittleEndian.PutUint16(initial[0:2], pageHeaderLen)
	pn, err := d.pgr.NewPage(initial)
	if err != nil {
		return 0, err
	}
	return pn, nil
}

// Read resolves uid, validates it, and returns a handle borrowing the
// page under a shared latch. The caller MUST call Release. A nil,nil
// result means the item was logically deleted (valid=0).
func (d *DataManager) Read(uid uint64) (*DataItem, error) {
	pageNo, offset := wal.UidPageOffset(uid)
	page, err := d.pgr.GetPage(pageNo)
	if err != nil {
		return nil, err
	}
	latch := d.latches.get(uid)
	latch.RLock()

	if int(offset) >= pageSize || page.Data[offset] == 0 {
		latch.RUnlock()
		d.pgr.ReleasePage(pageNo)
		return nil, nil
	}

	if d.metrics != nil {
		d.metrics.DMReadTotal.Inc()
	}
	return &DataItem{dm: d, uid: uid, pageNo: pageNo, offset: offset, page: page, latch: latch}, nil
}

// ForUpdate resolves uid and returns a handle holding the exclusive
// latch, ready for Before/SetBytes/After. A nil,nil result means the
// item was logically deleted.
func (d *DataManager) ForUpdate(uid uint64) (*DataItem, error) {
	pageNo, offset := wal.UidPageOffset(uid)
	page, err := d.pgr.GetPage(pageNo)
	if err != nil {
		return nil, err
	}
	latch := d.latches.get(uid)
	latch.Lock()

	if int(offset) >= pageSize || page.Data[offset] == 0 {
		latch.Unlock()
		d.pgr.ReleasePage(pageNo)
		return nil, nil
	}

	return &DataItem{dm: d, uid: uid, pageNo: pageNo, offset: offset, page: page, latch: latch, exclusive: true}, nil
}

// Insert allocates a slot for raw, appends an Insert WAL record, and
// returns the new item's uid. It retries exactly once after allocating
// a fresh page if no resident page has room.
func (d *DataManager) Insert(xid uint64, raw []byte) (uint64, error) {
	if len(raw) > maxPayload {
		return 0, common.New("dm.Insert", common.KindDataTooLarge)
	}
	need := itemHeaderLen + len(raw)

	uid, err := d.tryInsert(xid, raw, need)
	if err == nil {
		if d.metrics != nil {
			d.metrics.DMInsertTotal.Inc()
		}
		return uid, nil
	}
	if !common.Is(err, common.KindNoSpaceOnAnyPage) {
		return 0, err
	}

	newPageNo, allocErr := d.allocatePage()
	if allocErr != nil {
		return 0, allocErr
	}
	d.pi.Add(newPageNo, pageSize-pageHeaderLen)

	uid, err = d.tryInsert(xid, raw, need)
	if err == nil && d.metrics != nil {
		d.metrics.DMInsertTotal.Inc()
	}
	return uid, err
}

func (d *DataManager) tryInsert(xid uint64, raw []byte, need int) (uint64, error) {
	pageNo, ok := d.pi.SelectAndRemove(need)
	if !ok {
		return 0, common.New("dm.Insert", common.KindNoSpaceOnAnyPage)
	}

	page, err := d.pgr.GetPage(pageNo)
	if err != nil {
		return 0, err
	}
	defer d.pgr.ReleasePage(pageNo)

	offset := page.FreeOffset()
	if int(offset)+need > pageSize {
		// The page's true free space doesn't actually cover need (its
		// size class only guarantees a floor). Re-Add it under its real
		// free space so a smaller future insert can still find it, then
		// fail this attempt so the caller's retry allocates a fresh page.
		d.pi.Add(pageNo, pageSize-int(offset))
		return 0, common.New("dm.Insert", common.KindNoSpaceOnAnyPage)
	}

	page.Data[offset] = 1
	binary.LittleEndian.PutUint16(page.Data[offset+1:offset+3], uint16(len(raw)))
	copy(page.Data[offset+3:offset+3+uint16(len(raw))], raw)

	newOffset := offset + uint16(need)
	page.SetFreeOffset(newOffset)

	rec := wal.InsertRecord{Xid: xid, PageNo: pageNo, Offset: offset, Raw: raw}
	if err := d.log.Log(rec.Encode()); err != nil {
		return 0, err
	}

	d.pi.Add(pageNo, pageSize-int(newOffset))

	return wal.MakeUid(pageNo, offset), nil
}

// Close flushes and closes the xid table, the log, and the pager, in
// that order.
func (d *DataManager) Close() error {
	var firstErr error
	if err := d.xids.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.log.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.pgr.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Xids exposes the underlying transaction-status table to callers
// driving transaction lifecycle.
func (d *DataManager) Xids() *xidtable.Table { return d.xids }
