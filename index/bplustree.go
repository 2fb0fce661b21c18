package index

import (
	"fmt"
	"sync"

	"github.com/intellect4all/durastore/common"
	"github.com/intellect4all/durastore/dm"
	"github.com/intellect4all/durastore/internal/telemetry"
)

// BPlusTree recurses search/insert/split across Nodes stored as ordinary
// DataItems, with a boot indirection so the root's identity can migrate
// on split without invalidating a cached handle. Grounded on spec.md
// §4.6; there is no teacher B+tree with this boot/sibling-link shape to
// adapt from, so the orchestration here is original to this package
// while every DataManager call it makes reuses dm's before/after
// protocol exactly as specified.
type BPlusTree struct {
	dm      *dm.DataManager
	bootUid uint64
	bootMu  sync.Mutex
	metrics *telemetry.Metrics
	height  int // 1-based; only tracks splits seen by this process's instance
}

// WithMetrics attaches an optional metrics sink; every future split
// increments its counter and every root migration refreshes its height
// gauge. Pass nil to detach.
func (t *BPlusTree) WithMetrics(m *telemetry.Metrics) *BPlusTree {
	t.metrics = m
	return t
}

// Create builds an empty leaf, writes a boot DataItem pointing at it,
// and returns the boot's uid — the tree's one stable external handle.
func Create(d *dm.DataManager) (bootUid uint64, err error) {
	rootUid, err := d.Insert(common.SuperXID, newNilRootRaw())
	if err != nil {
		return 0, err
	}
	payload := make([]byte, 8)
	putUid(payload, rootUid)
	bootUid, err = d.Insert(common.SuperXID, payload)
	if err != nil {
		return 0, err
	}
	return bootUid, nil
}

// Load opens a tree from a previously created boot uid.
func Load(d *dm.DataManager, bootUid uint64) (*BPlusTree, error) {
	item, err := d.Read(bootUid)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("index.Load: boot item %d not found", bootUid)
	}
	item.Release()
	return &BPlusTree{dm: d, bootUid: bootUid, height: 1}, nil
}

func putUid(buf []byte, uid uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(uid >> (8 * i))
	}
}

func getUid(buf []byte) uint64 {
	var uid uint64
	for i := 0; i < 8; i++ {
		uid |= uint64(buf[i]) << (8 * i)
	}
	return uid
}

// rootUid reads the current root uid through the boot indirection. Safe
// under a concurrent updateRootUid: the boot mutex only guards the read
// of the 8-byte payload itself, not the whole descent, so readers never
// block on a traversal in progress — only on the brief root swap.
func (t *BPlusTree) rootUid() (uint64, error) {
	t.bootMu.Lock()
	defer t.bootMu.Unlock()

	item, err := t.dm.Read(t.bootUid)
	if err != nil {
		return 0, err
	}
	if item == nil {
		return 0, fmt.Errorf("index: boot item %d missing", t.bootUid)
	}
	defer item.Release()
	return getUid(item.Bytes()), nil
}

// updateRootUid atomically rewrites the boot DataItem to point at
// newRoot. Called once, by the caller who observed the root itself
// split.
func (t *BPlusTree) updateRootUid(newRoot uint64) error {
	t.bootMu.Lock()
	defer t.bootMu.Unlock()

	item, err := t.dm.ForUpdate(t.bootUid)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("index: boot item %d missing", t.bootUid)
	}
	item.Before()
	if err := item.SetBytes(encodeUid(newRoot)); err != nil {
		item.Discard()
		return err
	}
	return item.After(common.SuperXID)
}

func encodeUid(uid uint64) []byte {
	buf := make([]byte, 8)
	putUid(buf, uid)
	return buf
}

func (t *BPlusTree) readNode(uid uint64) (node, error) {
	item, err := t.dm.Read(uid)
	if err != nil {
		return node{}, err
	}
	if item == nil {
		return node{}, fmt.Errorf("index: node %d missing", uid)
	}
	defer item.Release()
	return parseNode(item.Bytes()), nil
}

// Search returns the payload uids stored under exactly key.
func (t *BPlusTree) Search(key int64) ([]uint64, error) {
	return t.SearchRange(key, key)
}

// SearchRange descends to the first leaf that could hold lo, then walks
// sibling-by-sibling (per leafSearchRange's contract) until a node
// reports no further sibling to continue on.
func (t *BPlusTree) SearchRange(lo, hi int64) ([]uint64, error) {
	leafUid, err := t.searchLeaf(lo)
	if err != nil {
		return nil, err
	}

	var out []uint64
	for leafUid != 0 {
		n, err := t.readNode(leafUid)
		if err != nil {
			return nil, err
		}
		uids, sibling := n.leafSearchRange(lo, hi)
		out = append(out, uids...)
		leafUid = sibling
	}
	return out, nil
}

// searchLeaf descends from the root via searchNext, following sibling
// pointers whenever a node reports the key has migrated past it.
func (t *BPlusTree) searchLeaf(key int64) (uint64, error) {
	cur, err := t.rootUid()
	if err != nil {
		return 0, err
	}

	for {
		n, err := t.readNode(cur)
		if err != nil {
			return 0, err
		}
		if n.isLeaf {
			return cur, nil
		}
		child, sibling := n.searchNext(key)
		if sibling != 0 {
			cur = sibling
			continue
		}
		cur = child
	}
}

// Insert adds (key, uid) to the tree, splitting nodes bottom-up as
// needed and migrating the root if the split reaches the top.
func (t *BPlusTree) Insert(key int64, uid uint64) error {
	root, err := t.rootUid()
	if err != nil {
		return err
	}

	result, err := t.insertDescend(root, key, uid)
	if err != nil {
		return err
	}
	// The root itself has no parent to retry it on sibling's behalf; a
	// lone leaf root never has a sibling, so this only matters once the
	// tree has split at least once and a later caller's cached root has
	// since migrated.
	for result.trySibling != 0 {
		result, err = t.insertDescend(result.trySibling, key, uid)
		if err != nil {
			return err
		}
	}
	if result.newNode != 0 {
		newRootRawBytes := newRootRaw(root, result.newNode, result.newKey)
		newRootUid, err := t.dm.Insert(common.SuperXID, newRootRawBytes)
		if err != nil {
			return err
		}
		if err := t.updateRootUid(newRootUid); err != nil {
			return err
		}
		t.height++
		if t.metrics != nil {
			t.metrics.BTreeHeight.Set(float64(t.height))
		}
	}
	return nil
}

// insertDescend recurses to a leaf, inserting (uid, key) there, then
// propagates any split result back up through ancestor insertAndSplit
// calls.
func (t *BPlusTree) insertDescend(nodeUid uint64, key int64, payloadUid uint64) (insertResult, error) {
	n, err := t.readNode(nodeUid)
	if err != nil {
		return insertResult{}, err
	}

	if n.isLeaf {
		return t.insertAndSplit(nodeUid, payloadUid, key)
	}

	child, sibling := n.searchNext(key)
	if sibling != 0 {
		return t.insertDescend(sibling, key, payloadUid)
	}

	childResult, err := t.insertDescend(child, key, payloadUid)
	if err != nil {
		return insertResult{}, err
	}
	if childResult.trySibling != 0 {
		return t.insertDescend(childResult.trySibling, key, payloadUid)
	}
	if childResult.newNode == 0 {
		return insertResult{}, nil
	}

	return t.insertAndSplit(nodeUid, childResult.newNode, childResult.newKey)
}

// insertAndSplit implements Node.insertAndSplit under nodeUid's
// before/after protocol: sibling-retry check first (no mutation), then
// ordered insert, then a split if the node grew past Order.
func (t *BPlusTree) insertAndSplit(nodeUid uint64, son uint64, key int64) (insertResult, error) {
	item, err := t.dm.ForUpdate(nodeUid)
	if err != nil {
		return insertResult{}, err
	}
	if item == nil {
		return insertResult{}, fmt.Errorf("index: node %d missing", nodeUid)
	}

	raw := item.Before()
	n := parseNode(raw)

	if sibling, retry := n.trySiblingFor(key); retry {
		item.Discard()
		return insertResult{trySibling: sibling}, nil
	}

	n.insertLocal(son, key)

	var result insertResult
	if len(n.entries) > Order {
		upper, splitKey := n.splitUpperHalf()
		newNodeRaw := node{isLeaf: n.isLeaf, sibling: n.sibling, entries: upper}
		newNodeUid, err := t.dm.Insert(common.SuperXID, newNodeRaw.encode())
		if err != nil {
			item.Discard()
			return insertResult{}, err
		}
		n.sibling = newNodeUid
		result = insertResult{newNode: newNodeUid, newKey: splitKey}
		if t.metrics != nil {
			t.metrics.BTreeSplitTotal.Inc()
		}
	}

	if err := item.SetBytes(n.encode()); err != nil {
		item.Discard()
		return insertResult{}, err
	}
	if err := item.After(common.SuperXID); err != nil {
		return insertResult{}, err
	}
	return result, nil
}
