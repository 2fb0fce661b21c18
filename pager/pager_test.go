package pager

import (
	"path/filepath"
	"testing"
)

func TestFreshOpenReportsCleanShutdown(t *testing.T) {
	p, clean, err := Open(filepath.Join(t.TempDir(), "test.db"), 8, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	if !clean {
		t.Fatalf("fresh database should report clean shutdown")
	}
}

func TestCleanCloseThenReopenIsClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	p, _, err := Open(path, 8, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, clean, err := Open(path, 8, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	if !clean {
		t.Fatalf("reopen after clean Close should report clean shutdown")
	}
}

func TestMissingCloseIsDetectedAsUnclean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	p, _, err := Open(path, 8, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Simulate a crash: never call p.Close(), so vc1/vc2 stay desynced.
	_ = p

	p2, clean, err := Open(path, 8, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	if clean {
		t.Fatalf("reopen without prior Close should report unclean shutdown")
	}
}

func TestNewPageGetPageRoundtrip(t *testing.T) {
	p, _, err := Open(filepath.Join(t.TempDir(), "test.db"), 8, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	initial := make([]byte, PageSize)
	initial[2] = 0xAB
	pn, err := p.NewPage(initial)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}

	page, err := p.GetPage(pn)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	defer p.ReleasePage(pn)

	if page.Data[2] != 0xAB {
		t.Fatalf("page data mismatch after NewPage/GetPage roundtrip")
	}
}
