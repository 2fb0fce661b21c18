// Package index implements the B+tree node layout and the pure
// key/entry algorithms that operate on it. The owning BPlusTree (in
// bplustree.go) is responsible for turning these into DataManager
// before/after transactions; everything in this file works on an
// in-memory parsed view so it can be unit tested without a DataManager.
//
// There is no teacher analogue for a fixed-key sibling-linked B+tree —
// the teacher's btree/node.go is a variable-length cell-based node for
// a different on-disk format — so this file is grounded directly on the
// spec's §3/§4.5 byte layout and algorithms rather than adapted teacher
// code.
package index

import (
	"encoding/binary"

	"github.com/intellect4all/durastore/common"
)

const (
	// Order is the maximum number of entries a node holds before it
	// must split.
	Order = 32

	nodeHeaderLen = 1 + 2 + 8 // isLeaf + nKeys + siblingUid
	entryLen      = 8 + 8     // son + key

	// maxEntries is Order+1: a node transiently holds one entry past the
	// split threshold (the insert that triggers the split) before it is
	// shrunk back down. Every node DataItem is allocated at this fixed
	// footprint regardless of its current entry count, because DM's
	// before/after protocol mutates a DataItem's bytes in place without
	// changing its size (page free offsets never move backward, so an
	// item can't grow or shrink its slot after allocation). Unused
	// trailing entry slots are left zeroed; nKeys says how many count.
	maxEntries = Order + 1
	maxNodeLen = nodeHeaderLen + maxEntries*entryLen
)

// entry is one (son, key) pair: for leaves son is a payload uid, for
// internals son is a child node uid.
type entry struct {
	son uint64
	key int64
}

// node is the parsed in-memory view of a node's raw DataItem bytes.
type node struct {
	isLeaf  bool
	sibling uint64
	entries []entry
}

func parseNode(raw []byte) node {
	n := node{
		isLeaf:  raw[0] != 0,
		sibling: binary.LittleEndian.Uint64(raw[3:11]),
	}
	nKeys := int(binary.LittleEndian.Uint16(raw[1:3]))
	n.entries = make([]entry, nKeys)
	off := nodeHeaderLen
	for i := 0; i < nKeys; i++ {
		son := binary.LittleEndian.Uint64(raw[off : off+8])
		key := int64(binary.LittleEndian.Uint64(raw[off+8 : off+16]))
		n.entries[i] = entry{son: son, key: key}
		off += entryLen
	}
	return n
}

func (n node) encode() []byte {
	raw := make([]byte, maxNodeLen)
	if n.isLeaf {
		raw[0] = 1
	}
	binary.LittleEndian.PutUint16(raw[1:3], uint16(len(n.entries)))
	binary.LittleEndian.PutUint64(raw[3:11], n.sibling)
	off := nodeHeaderLen
	for _, e := range n.entries {
		binary.LittleEndian.PutUint64(raw[off:off+8], e.son)
		binary.LittleEndian.PutUint64(raw[off+8:off+16], uint64(e.key))
		off += entryLen
	}
	return raw
}

// newNilRootRaw is an empty leaf: a single (0, INF) sentinel entry.
func newNilRootRaw() []byte {
	n := node{isLeaf: true, entries: []entry{{son: 0, key: common.KeyInf}}}
	return n.encode()
}

// newRootRaw is an internal root with two entries: (left, rightKey) and
// (right, INF).
func newRootRaw(left, right uint64, rightKey int64) []byte {
	n := node{isLeaf: false, entries: []entry{
		{son: left, key: rightKey},
		{son: right, key: common.KeyInf},
	}}
	return n.encode()
}

// searchNext finds the smallest index i with keys[i] > key and returns
// its son as the next hop — including when that entry is the INF
// sentinel, whose son is a real, populated child covering every key at
// or above the node's last real separator. The sibling is only the
// right answer when key has actually migrated past this node (mirrors
// trySiblingFor's check), which happens only once this node itself has
// split and gained a nonzero sibling.
func (n node) searchNext(key int64) (childUid uint64, siblingUid uint64) {
	if sibling, retry := n.trySiblingFor(key); retry {
		return 0, sibling
	}
	for _, e := range n.entries {
		if e.key > key {
			return e.son, 0
		}
	}
	// Every entry exhausted without exceeding key: INF guarantees this
	// never happens for a well-formed node, but fall back to sibling.
	return 0, n.sibling
}

// leafSearchRange collects every son whose key falls in [lo, hi]. If the
// last matched entry is the node's last key, the sibling is reported so
// the caller can continue across the chain.
func (n node) leafSearchRange(lo, hi int64) (uids []uint64, siblingUid uint64) {
	lastIdx := -1
	for i, e := range n.entries {
		if e.key == common.KeyInf {
			break
		}
		if e.key >= lo && e.key <= hi {
			uids = append(uids, e.son)
			lastIdx = i
		}
	}
	if lastIdx >= 0 && lastIdx == len(n.entries)-2 {
		// matched through the last real key (one before the INF sentinel)
		siblingUid = n.sibling
	}
	return uids, siblingUid
}

// lastRealKey returns the key of the highest non-sentinel entry, if any.
func (n node) lastRealKey() (key int64, has bool) {
	if len(n.entries) < 2 {
		return 0, false
	}
	return n.entries[len(n.entries)-2].key, true
}

// trySiblingFor reports whether key has already migrated past this node
// to its right sibling. This is the B-link race insertAndSplit guards
// against: a concurrent split may have moved the upper half (and its
// keys) to a new sibling before a racing inserter, holding a stale
// descent path, reaches this node.
func (n node) trySiblingFor(key int64) (siblingUid uint64, retry bool) {
	last, has := n.lastRealKey()
	if has && key >= last && n.sibling != 0 {
		return n.sibling, true
	}
	return 0, false
}

// insertResult is the sum type insertAndSplit returns instead of raising
// an exception for the sibling-retry and split cases.
type insertResult struct {
	trySibling uint64 // nonzero: caller must retry on this sibling
	newNode    uint64 // nonzero: this node split, a new right sibling was created
	newKey     int64  // first key owned by newNode, valid iff newNode != 0
}

// insertLocal inserts (son, key) in ascending order into n. In an
// internal node (son, key) is a split child's new right sibling and the
// first key it owns: the entry that routed to the split child keeps its
// son but now ends at key, and son takes over that entry's old upper
// bound. It does not decide splitting or sibling-retry on its own; the
// caller (insertAndSplit) makes that call before/after invoking this.
func (n *node) insertLocal(son uint64, key int64) {
	idx := len(n.entries)
	for i, e := range n.entries {
		if key < e.key {
			idx = i
			break
		}
	}
	n.entries = append(n.entries, entry{})
	copy(n.entries[idx+1:], n.entries[idx:])
	if !n.isLeaf && idx+1 < len(n.entries) {
		n.entries[idx] = entry{son: n.entries[idx+1].son, key: key}
		n.entries[idx+1].son = son
		return
	}
	n.entries[idx] = entry{son: son, key: key}
}

// splitUpperHalf removes and returns the upper half of n's entries
// (including the trailing INF), leaving n with the lower half plus a
// fresh INF sentinel over the split boundary.
func (n *node) splitUpperHalf() (upper []entry, splitKey int64) {
	mid := len(n.entries) / 2
	upper = append([]entry(nil), n.entries[mid:]...)
	// splitKey is the separator the parent uses to route between n and
	// the new right sibling: keys below it go to n. n keeps its highest
	// real entry and gains a fresh INF sentinel after it (every node's
	// last key must be INF), rather than overwriting it and losing the
	// son it points to. In an internal node that entry's key is an
	// exclusive bound, so it is the separator itself; a leaf still holds
	// that key, so its separator is the next key up.
	splitKey = n.entries[mid-1].key
	if n.isLeaf {
		splitKey++
	}
	lower := append([]entry(nil), n.entries[:mid]...)
	lower = append(lower, entry{son: 0, key: common.KeyInf})
	n.entries = lower
	return upper, splitKey
}
