package xidtable

import (
	"path/filepath"
	"testing"
)

func TestSuperXidAlwaysCommitted(t *testing.T) {
	tbl, err := Open(filepath.Join(t.TempDir(), "x.xid"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tbl.Close()

	if !tbl.IsCommitted(0) {
		t.Fatalf("SuperXID must always report committed")
	}
	if tbl.IsActive(0) || tbl.IsAborted(0) {
		t.Fatalf("SuperXID must not be active or aborted")
	}
}

func TestBeginCommitAbortLifecycle(t *testing.T) {
	tbl, err := Open(filepath.Join(t.TempDir(), "x.xid"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tbl.Close()

	xid, err := tbl.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !tbl.IsActive(xid) {
		t.Fatalf("fresh xid should be active")
	}

	if err := tbl.Commit(xid); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !tbl.IsCommitted(xid) {
		t.Fatalf("xid should be committed after Commit")
	}

	xid2, err := tbl.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tbl.Abort(xid2); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if !tbl.IsAborted(xid2) {
		t.Fatalf("xid2 should be aborted")
	}
}

func TestStatusSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.xid")
	tbl, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	xid, err := tbl.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tbl.Commit(xid); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tbl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tbl2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer tbl2.Close()
	if !tbl2.IsCommitted(xid) {
		t.Fatalf("committed xid should survive reopen")
	}
}
