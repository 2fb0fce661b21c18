package recovery

import (
	"path/filepath"
	"testing"

	"github.com/intellect4all/durastore/wal"
)

type fakeXidStatus struct {
	committed map[uint64]bool
	active    map[uint64]bool
}

func (f *fakeXidStatus) IsCommitted(xid uint64) bool { return f.committed[xid] }
func (f *fakeXidStatus) IsActive(xid uint64) bool    { return f.active[xid] }

type event struct {
	kind   string
	pageNo uint32
	offset uint16
	uid    uint64
	bytes  []byte
}

type fakeApplier struct {
	events []event
}

func (a *fakeApplier) ApplyInsertRedo(pageNo uint32, offset uint16, raw []byte) error {
	a.events = append(a.events, event{kind: "insertRedo", pageNo: pageNo, offset: offset, bytes: raw})
	return nil
}
func (a *fakeApplier) ApplyUpdateRedo(uid uint64, newBytes []byte) error {
	a.events = append(a.events, event{kind: "updateRedo", uid: uid, bytes: newBytes})
	return nil
}
func (a *fakeApplier) ApplyInsertUndo(pageNo uint32, offset uint16) error {
	a.events = append(a.events, event{kind: "insertUndo", pageNo: pageNo, offset: offset})
	return nil
}
func (a *fakeApplier) ApplyUpdateUndo(uid uint64, oldBytes []byte) error {
	a.events = append(a.events, event{kind: "updateUndo", uid: uid, bytes: oldBytes})
	return nil
}

func TestRunRedoesCommittedAndUndoesActive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := wal.Open(path, nil)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	defer l.Close()

	committedInsert := wal.InsertRecord{Xid: 1, PageNo: 2, Offset: 10, Raw: []byte("committed")}
	if err := l.Log(committedInsert.Encode()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	activeInsert := wal.InsertRecord{Xid: 2, PageNo: 3, Offset: 20, Raw: []byte("active")}
	if err := l.Log(activeInsert.Encode()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	xids := &fakeXidStatus{
		committed: map[uint64]bool{1: true},
		active:    map[uint64]bool{2: true},
	}
	applier := &fakeApplier{}

	hi, err := Run(l, xids, applier)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if hi != 3 {
		t.Fatalf("highestPageNo = %d, want 3", hi)
	}

	var redoSeen, undoSeen bool
	for _, e := range applier.events {
		if e.kind == "insertRedo" && e.pageNo == 2 {
			redoSeen = true
		}
		if e.kind == "insertUndo" && e.pageNo == 3 {
			undoSeen = true
		}
	}
	if !redoSeen {
		t.Fatalf("expected redo applied to committed xid's page 2")
	}
	if !undoSeen {
		t.Fatalf("expected undo applied to active xid's page 3")
	}
}
