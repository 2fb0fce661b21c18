// Package recovery drives the redo/undo crash-recovery pass described in
// the storage core's design: a full read-back of the log followed by two
// ordered scans against a caller-supplied Applier. It is decoupled from
// both wal and dm package internals on purpose — DataManager implements
// Applier and xidtable implements XidStatus, so this package only knows
// the shapes, not either concrete type, avoiding an import cycle between
// dm (which calls Run) and this package.
package recovery

import (
	"github.com/intellect4all/durastore/wal"
)

// XidStatus classifies a logged xid. SuperXID must report committed.
type XidStatus interface {
	IsCommitted(xid uint64) bool
	IsActive(xid uint64) bool
}

// Applier is the page-mutating side of recovery, implemented by
// DataManager against its Pager.
type Applier interface {
	ApplyInsertRedo(pageNo uint32, offset uint16, raw []byte) error
	ApplyUpdateRedo(uid uint64, newBytes []byte) error
	ApplyInsertUndo(pageNo uint32, offset uint16) error
	ApplyUpdateUndo(uid uint64, oldBytes []byte) error
}

type entry struct {
	xid    uint64
	insert *wal.InsertRecord
	update *wal.UpdateRecord
}

// Run reads every record in log (via a fresh Rewind), replays committed
// or super-xid mutations forward, then reverts active-xid mutations in
// reverse order. It returns the highest page number any record
// referenced, so the caller can truncate the file to that extent.
func Run(log *wal.Logger, xids XidStatus, applier Applier) (highestPageNo uint32, err error) {
	log.Rewind()

	var entries []entry
	for {
		body, ok, nextErr := log.Next()
		if nextErr != nil {
			return 0, nextErr
		}
		if !ok {
			break
		}
		if len(body) == 0 {
			continue
		}

		switch wal.Kind(body[0]) {
		case wal.KindInsert:
			r, decodeOk := wal.DecodeInsertRecord(body[1:])
			if !decodeOk {
				continue
			}
			if r.PageNo > highestPageNo {
				highestPageNo = r.PageNo
			}
			entries = append(entries, entry{xid: r.Xid, insert: &r})
		case wal.KindUpdate:
			r, decodeOk := wal.DecodeUpdateRecord(body[1:])
			if !decodeOk {
				continue
			}
			pageNo, _ := wal.UidPageOffset(r.Uid)
			if pageNo > highestPageNo {
				highestPageNo = pageNo
			}
			entries = append(entries, entry{xid: r.Xid, update: &r})
		}
	}

	for _, e := range entries {
		if !xids.IsCommitted(e.xid) {
			continue
		}
		if e.insert != nil {
			if err := applier.ApplyInsertRedo(e.insert.PageNo, e.insert.Offset, e.insert.Raw); err != nil {
				return 0, err
			}
		} else if err := applier.ApplyUpdateRedo(e.update.Uid, e.update.NewBytes); err != nil {
			return 0, err
		}
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !xids.IsActive(e.xid) {
			continue
		}
		if e.insert != nil {
			if err := applier.ApplyInsertUndo(e.insert.PageNo, e.insert.Offset); err != nil {
				return 0, err
			}
		} else if err := applier.ApplyUpdateUndo(e.update.Uid, e.update.OldBytes); err != nil {
			return 0, err
		}
	}

	return highestPageNo, nil
}
