// Package xidtable is a minimal transaction-status table: just enough
// surface for DataManager's recovery pass to classify a logged xid as
// active, committed or aborted. It deliberately does not implement MVCC
// visibility, snapshotting or lock management — that is the out-of-scope
// Version Manager's job; this is the narrow stand-in its contract needs.
package xidtable

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/intellect4all/durastore/common"
	"github.com/intellect4all/durastore/internal/telemetry"
)

// Status is one xid's lifecycle state.
type Status byte

const (
	StatusActive Status = iota
	StatusCommitted
	StatusAborted
)

const (
	headerLen = 8 // count of xids begun (the last xid handed out)
	statusLen = 1
)

// Table persists xid statuses as a flat header+array file: an 8-byte
// counter of xids ever begun, followed by one status byte per xid
// (1-indexed; xid 0 is the always-committed SuperXID and has no slot).
type Table struct {
	mu      sync.Mutex
	file    *os.File
	counter uint64
	metrics *telemetry.Metrics
}

// Open opens or creates the xid table at path. metrics may be nil.
func Open(path string, metrics *telemetry.Metrics) (*Table, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, common.Wrap("xidtable.Open", common.KindFileCrit, err)
	}
	t := &Table{file: f, metrics: metrics}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, common.Wrap("xidtable.Open", common.KindFileCrit, err)
	}
	if stat.Size() < headerLen {
		if err := t.writeCounter(0); err != nil {
			f.Close()
			return nil, err
		}
		return t, nil
	}

	hdr := make([]byte, headerLen)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		return nil, common.Wrap("xidtable.Open", common.KindFileCrit, err)
	}
	t.counter = binary.LittleEndian.Uint64(hdr)
	return t, nil
}

func (t *Table) writeCounter(c uint64) error {
	hdr := make([]byte, headerLen)
	binary.LittleEndian.PutUint64(hdr, c)
	if _, err := t.file.WriteAt(hdr, 0); err != nil {
		return common.Wrap("xidtable.writeCounter", common.KindFileCrit, err)
	}
	t.counter = c
	return nil
}

func slotOffset(xid uint64) int64 {
	return headerLen + int64(xid-1)*statusLen
}

// Begin allocates and returns a fresh active xid. xid 0 (SuperXID) is
// never handed out here.
func (t *Table) Begin() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	xid := t.counter + 1
	if err := t.writeStatusLocked(xid, StatusActive); err != nil {
		return 0, err
	}
	if err := t.writeCounter(xid); err != nil {
		return 0, err
	}
	if err := t.file.Sync(); err != nil {
		return 0, common.Wrap("xidtable.Begin", common.KindFileCrit, err)
	}
	if t.metrics != nil {
		t.metrics.XidActive.Inc()
	}
	return xid, nil
}

func (t *Table) writeStatusLocked(xid uint64, s Status) error {
	if _, err := t.file.WriteAt([]byte{byte(s)}, slotOffset(xid)); err != nil {
		return common.Wrap("xidtable.writeStatus", common.KindFileCrit, err)
	}
	return nil
}

// Commit marks xid committed.
func (t *Table) Commit(xid uint64) error {
	if xid == common.SuperXID {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writeStatusLocked(xid, StatusCommitted); err != nil {
		return err
	}
	if err := t.file.Sync(); err != nil {
		return common.Wrap("xidtable.Commit", common.KindFileCrit, err)
	}
	if t.metrics != nil {
		t.metrics.XidActive.Dec()
		t.metrics.XidCommitted.Inc()
	}
	return nil
}

// Abort marks xid aborted.
func (t *Table) Abort(xid uint64) error {
	if xid == common.SuperXID {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writeStatusLocked(xid, StatusAborted); err != nil {
		return err
	}
	if err := t.file.Sync(); err != nil {
		return common.Wrap("xidtable.Abort", common.KindFileCrit, err)
	}
	if t.metrics != nil {
		t.metrics.XidActive.Dec()
		t.metrics.XidAborted.Inc()
	}
	return nil
}

func (t *Table) status(xid uint64) Status {
	if xid == common.SuperXID {
		return StatusCommitted
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if xid > t.counter {
		return StatusActive
	}
	buf := make([]byte, 1)
	if _, err := t.file.ReadAt(buf, slotOffset(xid)); err != nil {
		return StatusActive
	}
	return Status(buf[0])
}

// IsActive reports whether xid is still open (including the case where
// it was never begun through this table, which recovery treats as a
// crash mid-transaction).
func (t *Table) IsActive(xid uint64) bool { return t.status(xid) == StatusActive }

// IsCommitted reports whether xid committed, or is the SuperXID.
func (t *Table) IsCommitted(xid uint64) bool { return t.status(xid) == StatusCommitted }

// IsAborted reports whether xid was explicitly aborted.
func (t *Table) IsAborted(xid uint64) bool { return t.status(xid) == StatusAborted }

// Close syncs and closes the underlying file.
func (t *Table) Close() error {
	if err := t.file.Sync(); err != nil {
		return common.Wrap("xidtable.Close", common.KindFileCrit, err)
	}
	return t.file.Close()
}
