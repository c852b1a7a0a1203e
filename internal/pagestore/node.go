// Package pagestore is the in-memory node store: a conforming concrete
// implementation of the narrow interface the tree core (internal/cowbtree)
// consumes for allocation, pinning, locking, and relocation of fixed-size
// pages by 64-bit address (C1). The physical page store / virtual disk is
// out of scope for the specification this module implements; this package
// is the module's own stand-in for it, kept deliberately simple (no mmap,
// no WAL, no on-disk format) because durability is an explicit non-goal.
//
// Grounded on tur's pkg/pager/pager.go (Allocate/Get/Release/Free naming and
// the pin-then-lock ordering) and pkg/pager/page.go's per-page sync.RWMutex
// plus pin count, and on the original source's Oc_pm_page_cb (hash-chained,
// ref-counted page control block) in oc_pm_s.h.
package pagestore

import "sync"

// Node is a single page: a sorted array of (key, value) records (leaf) or
// (min_key, child_addr) entries (index), at a 64-bit disk address. Exactly
// one variant at a time, per spec.
type Node struct {
	mu sync.RWMutex

	addr   uint64
	isLeaf bool
	isRoot bool

	// Leaf payload.
	keys   [][]byte
	values [][]byte

	// Index payload: children[i] is the address of the subtree whose
	// minimum key is keys[i]. len(children) == len(keys) always.
	children []uint64

	// Leaf-chain links, maintained for hand-over-hand range scans.
	nextLeaf uint64

	pinCount int32
}

// newLeaf creates an empty leaf node at addr.
func newLeaf(addr uint64) *Node {
	return &Node{addr: addr, isLeaf: true}
}

// newIndex creates an empty index node at addr.
func newIndex(addr uint64) *Node {
	return &Node{addr: addr, isLeaf: false}
}

// Addr returns the node's current disk address. Callers must re-check this
// after acquiring a lock via GetSL/GetXL: the address observed before
// locking may be stale if the page relocated (see mark_dirty).
func (n *Node) Addr() uint64 { return n.addr }

// IsLeaf reports whether this node is a leaf.
func (n *Node) IsLeaf() bool { return n.isLeaf }

// IsRoot reports whether this node is currently a tree's root.
func (n *Node) IsRoot() bool { return n.isRoot }

// SetRoot marks or unmarks this node as a tree's root.
func (n *Node) SetRoot(v bool) { n.isRoot = v }

// ResetAsIndex clears the node's content and converts it to an (initially
// empty) index node. Used by root-split-in-place.
func (n *Node) ResetAsIndex() {
	n.isLeaf = false
	n.keys = nil
	n.values = nil
	n.children = nil
}

// ResetAsLeaf clears the node's content and converts it to an (initially
// empty) leaf node.
func (n *Node) ResetAsLeaf() {
	n.isLeaf = true
	n.keys = nil
	n.values = nil
	n.children = nil
	n.nextLeaf = 0
}

// CopyContentFrom replaces n's entries with a copy of src's entries,
// without changing n's address or root flag. Used by root collapse to pull
// a sole remaining child's content up into the root page.
func (n *Node) CopyContentFrom(src *Node) {
	n.isLeaf = src.isLeaf
	n.nextLeaf = src.nextLeaf
	if src.isLeaf {
		n.keys = append([][]byte(nil), src.keys...)
		n.values = append([][]byte(nil), src.values...)
		n.children = nil
	} else {
		n.keys = append([][]byte(nil), src.keys...)
		n.children = append([]uint64(nil), src.children...)
		n.values = nil
	}
}

// Count returns the number of entries in the node.
func (n *Node) Count() int { return len(n.keys) }

// Key returns the key at position i.
func (n *Node) Key(i int) []byte { return n.keys[i] }

// Value returns the value at position i (leaf only).
func (n *Node) Value(i int) []byte { return n.values[i] }

// Child returns the child address at position i (index only).
func (n *Node) Child(i int) uint64 { return n.children[i] }

// NextLeaf returns the leaf-chain successor address (leaf only; 0 if none).
func (n *Node) NextLeaf() uint64 { return n.nextLeaf }

// SetNextLeaf sets the leaf-chain successor address.
func (n *Node) SetNextLeaf(addr uint64) { n.nextLeaf = addr }

// Lock acquires the node's write lock. Exported so C4 can hold it across a
// hand-over-hand step without re-entering the store.
func (n *Node) Lock() { n.mu.Lock() }

// Unlock releases the node's write lock.
func (n *Node) Unlock() { n.mu.Unlock() }

// RLock acquires the node's read lock.
func (n *Node) RLock() { n.mu.RLock() }

// RUnlock releases the node's read lock.
func (n *Node) RUnlock() { n.mu.RUnlock() }

// InsertLeaf inserts a (key, value) record at position pos, shifting later
// entries right. Leaf only.
func (n *Node) InsertLeaf(pos int, key, value []byte) {
	n.keys = append(n.keys, nil)
	copy(n.keys[pos+1:], n.keys[pos:])
	n.keys[pos] = key

	n.values = append(n.values, nil)
	copy(n.values[pos+1:], n.values[pos:])
	n.values[pos] = value
}

// SetLeafValue overwrites the value at position pos. Leaf only.
func (n *Node) SetLeafValue(pos int, value []byte) {
	n.values[pos] = value
}

// InsertChild inserts a (min_key, child_addr) entry at position pos,
// shifting later entries right. Index only.
func (n *Node) InsertChild(pos int, minKey []byte, child uint64) {
	n.keys = append(n.keys, nil)
	copy(n.keys[pos+1:], n.keys[pos:])
	n.keys[pos] = minKey

	n.children = append(n.children, 0)
	copy(n.children[pos+1:], n.children[pos:])
	n.children[pos] = child
}

// SetChild overwrites the child address at position pos. Index only.
func (n *Node) SetChild(pos int, child uint64) {
	n.children[pos] = child
}

// ReplaceKey overwrites the key at position pos (used by replace_min_key
// after a descendant's minimum key changed, and by rotation).
func (n *Node) ReplaceKey(pos int, key []byte) {
	n.keys[pos] = key
}

// RemoveAt removes the entry at position pos, shifting later entries left.
// Works for both leaf and index nodes.
func (n *Node) RemoveAt(pos int) {
	n.keys = append(n.keys[:pos], n.keys[pos+1:]...)
	if n.isLeaf {
		n.values = append(n.values[:pos], n.values[pos+1:]...)
	} else {
		n.children = append(n.children[:pos], n.children[pos+1:]...)
	}
}

// Truncate keeps only the first k entries, discarding the rest. Used by
// split to cut the left half down after the right half has been extracted.
func (n *Node) Truncate(k int) {
	n.keys = n.keys[:k]
	if n.isLeaf {
		n.values = n.values[:k]
	} else {
		n.children = n.children[:k]
	}
}

// AppendLeaf appends a (key, value) record to the end. Leaf only.
func (n *Node) AppendLeaf(key, value []byte) {
	n.keys = append(n.keys, key)
	n.values = append(n.values, value)
}

// AppendChild appends a (min_key, child_addr) entry to the end. Index only.
func (n *Node) AppendChild(minKey []byte, child uint64) {
	n.keys = append(n.keys, minKey)
	n.children = append(n.children, child)
}

// PrependLeaf inserts a (key, value) record at the front. Leaf only.
func (n *Node) PrependLeaf(key, value []byte) {
	n.InsertLeaf(0, key, value)
}

// PrependChild inserts a (min_key, child_addr) entry at the front. Index only.
func (n *Node) PrependChild(minKey []byte, child uint64) {
	n.InsertChild(0, minKey, child)
}

// clone deep-copies the node's content into a new Node at the given
// address. Used by GetXL to hand a writer a private working copy of a
// shared (multi_ref) page, which mark_dirty later publishes at a fresh
// address.
func (n *Node) clone(newAddr uint64) *Node {
	c := &Node{
		addr:     newAddr,
		isLeaf:   n.isLeaf,
		isRoot:   n.isRoot,
		nextLeaf: n.nextLeaf,
	}
	if n.isLeaf {
		c.keys = append([][]byte(nil), n.keys...)
		c.values = append([][]byte(nil), n.values...)
	} else {
		c.keys = append([][]byte(nil), n.keys...)
		c.children = append([]uint64(nil), n.children...)
	}
	return c
}
