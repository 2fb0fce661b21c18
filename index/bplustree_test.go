package index

import (
	"path/filepath"
	"testing"

	"github.com/intellect4all/durastore/common"
	"github.com/intellect4all/durastore/dm"
	"github.com/intellect4all/durastore/internal/logging"
)

func openTestTree(t *testing.T) (*dm.DataManager, *BPlusTree, uint64) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "db")
	d, err := dm.Open(base, dm.DefaultConfig(), logging.Nop())
	if err != nil {
		t.Fatalf("dm.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	bootUid, err := Create(d)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tree, err := Load(d, bootUid)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return d, tree, bootUid
}

func TestNewNilRootRawIsEmptyLeafWithSentinel(t *testing.T) {
	n := parseNode(newNilRootRaw())
	if !n.isLeaf {
		t.Fatalf("expected leaf")
	}
	if len(n.entries) != 1 || n.entries[0].key != common.KeyInf {
		t.Fatalf("expected single INF sentinel entry, got %+v", n.entries)
	}
}

func TestSearchMissOnEmptyTree(t *testing.T) {
	_, tree, _ := openTestTree(t)
	uids, err := tree.Search(5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(uids) != 0 {
		t.Fatalf("expected no results, got %v", uids)
	}
}

func TestInsertAndSearchSingleKey(t *testing.T) {
	_, tree, _ := openTestTree(t)
	if err := tree.Insert(10, 1010); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	uids, err := tree.Search(10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(uids) != 1 || uids[0] != 1010 {
		t.Fatalf("Search(10) = %v, want [1010]", uids)
	}
}

// TestSplitAndRootMigration exercises scenarios 5 and 6: inserting keys
// 1..40 forces the root to split into an internal node with two leaf
// children chained by sibling pointers, SearchRange(1,40) returns all
// 40 payloads, and the boot uid returned by Create never changes even
// though the boot DataItem's contents do.
func TestSplitAndRootMigration(t *testing.T) {
	_, tree, bootUid := openTestTree(t)

	for i := int64(1); i <= 40; i++ {
		if err := tree.Insert(i, uint64(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	if tree.bootUid != bootUid {
		t.Fatalf("tree's boot uid changed: %d != %d", tree.bootUid, bootUid)
	}

	rootUid, err := tree.rootUid()
	if err != nil {
		t.Fatalf("rootUid: %v", err)
	}
	root, err := tree.readNode(rootUid)
	if err != nil {
		t.Fatalf("readNode(root): %v", err)
	}
	if root.isLeaf {
		t.Fatalf("expected root to have split into an internal node")
	}
	if len(root.entries) != 2 {
		t.Fatalf("expected root to have exactly two children, got %d entries", len(root.entries))
	}

	uids, err := tree.SearchRange(1, 40)
	if err != nil {
		t.Fatalf("SearchRange(1,40): %v", err)
	}
	if len(uids) != 40 {
		t.Fatalf("SearchRange(1,40) returned %d uids, want 40", len(uids))
	}

	seen := make(map[uint64]bool, 40)
	for _, u := range uids {
		seen[u] = true
	}
	for i := uint64(1); i <= 40; i++ {
		if !seen[i] {
			t.Fatalf("SearchRange(1,40) missing payload uid %d", i)
		}
	}

	for i := int64(1); i <= 40; i++ {
		got, err := tree.Search(i)
		if err != nil {
			t.Fatalf("Search(%d): %v", i, err)
		}
		if len(got) != 1 || got[0] != uint64(i) {
			t.Fatalf("Search(%d) = %v, want [%d]", i, got, i)
		}
	}
}

func TestInsertOutOfOrder(t *testing.T) {
	_, tree, _ := openTestTree(t)
	order := []int64{5, 3, 9, 1, 7, 2, 8, 4, 6}
	for _, k := range order {
		if err := tree.Insert(k, uint64(k)+100); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	uids, err := tree.SearchRange(1, 9)
	if err != nil {
		t.Fatalf("SearchRange: %v", err)
	}
	if len(uids) != len(order) {
		t.Fatalf("SearchRange(1,9) returned %d uids, want %d", len(uids), len(order))
	}
}
