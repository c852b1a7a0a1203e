// Node codec (C3): search / is_full / is_underflow / insert / remove /
// split / merge_into_left / move_min / move_max / replace_min_key, all
// operating on pagestore.Node's sorted-array primitive. Leaves and index
// nodes share this primitive, differing only in entry payload (value vs.
// child address), exactly as spec.md states.
//
// Grounded on pkg/cowbtree/node.go's findKeyPosition/findChildIndex binary
// search and split(), and hmarui66-blink-tree-go/bltree.go's splitKeys for
// the index child-pointer convention.
package cowbtree

import "github.com/ohad-rodeh/cowbtree/internal/pagestore"

// search performs a binary search for key among node's entries. pos is the
// index of key if found, otherwise the insertion point that keeps the
// array sorted.
func search(ko KeyOrder, n *pagestore.Node, key []byte) (found bool, pos int) {
	lo, hi := 0, n.Count()
	for lo < hi {
		mid := (lo + hi) / 2
		c := ko.Cmp(n.Key(mid), key)
		switch {
		case c == 0:
			return true, mid
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false, lo
}

// findChildIndex returns the rightmost child index whose min_key <= key, for
// navigating an index node during descent. Index nodes are never empty once
// a tree exists beyond the singleton-empty-root state.
func findChildIndex(ko KeyOrder, n *pagestore.Node, key []byte) int {
	found, pos := search(ko, n, key)
	if found {
		return pos
	}
	if pos == 0 {
		return 0
	}
	return pos - 1
}

func maxFanout(cfg Config, n *pagestore.Node) int {
	if n.IsRoot() {
		return cfg.RootFanout
	}
	return cfg.NonRootFanout
}

// isFull reports whether n has no room for one more entry.
func isFull(cfg Config, n *pagestore.Node) bool {
	return n.Count() >= maxFanout(cfg, n)
}

// isUnderflow reports whether n has fewer than the minimum allowed entries.
// The root is exempt (its minimum is 1, enforced separately by collapse
// logic, not by this predicate).
func isUnderflow(cfg Config, n *pagestore.Node) bool {
	if n.IsRoot() {
		return n.Count() < 1
	}
	return n.Count() < cfg.MinFanout
}

// splitNode splits n in half, moving the upper half into a freshly
// allocated node. The split point is ceil(n/2); ties are broken left-heavy,
// per spec.md §4.2. Returns the new right-hand handle and the minimum key
// of the right half (the separator to promote). n itself is mutated in
// place (truncated to its left half) — the caller is responsible for
// COW-relocating n via mark_dirty, since split is a pure codec primitive.
func splitNode(store *pagestore.Store, n *pagestore.Node) (right *pagestore.Handle, splitKey []byte) {
	count := n.Count()
	splitPoint := (count + 1) / 2

	rh := store.Alloc(n.IsLeaf())
	rn := rh.Node()

	for i := splitPoint; i < count; i++ {
		if n.IsLeaf() {
			rn.AppendLeaf(n.Key(i), n.Value(i))
		} else {
			rn.AppendChild(n.Key(i), n.Child(i))
		}
	}
	if n.IsLeaf() {
		rn.SetNextLeaf(n.NextLeaf())
		n.SetNextLeaf(rn.Addr())
	}
	n.Truncate(splitPoint)

	return rh, copyBytes(rn.Key(0))
}

// mergeIntoLeft concatenates right's entries onto the end of left. Callers
// guarantee the result fits (this is only invoked when left+right's
// combined count is within bounds, per the merge-on-minimum rule).
func mergeIntoLeft(left, right *pagestore.Node) {
	for i := 0; i < right.Count(); i++ {
		if left.IsLeaf() {
			left.AppendLeaf(right.Key(i), right.Value(i))
		} else {
			left.AppendChild(right.Key(i), right.Child(i))
		}
	}
	if left.IsLeaf() {
		left.SetNextLeaf(right.NextLeaf())
	}
}

// moveMin moves src's first (minimum) entry onto the end of dst. Used to
// rotate one entry from a right sibling into a left, at-minimum node.
func moveMin(src, dst *pagestore.Node) {
	if src.IsLeaf() {
		dst.AppendLeaf(src.Key(0), src.Value(0))
	} else {
		dst.AppendChild(src.Key(0), src.Child(0))
	}
	src.RemoveAt(0)
}

// moveMax moves src's last (maximum) entry onto the front of dst. Used to
// rotate one entry from a left sibling into a right, at-minimum node.
func moveMax(src, dst *pagestore.Node) {
	last := src.Count() - 1
	if src.IsLeaf() {
		dst.PrependLeaf(src.Key(last), src.Value(last))
	} else {
		dst.PrependChild(src.Key(last), src.Child(last))
	}
	src.RemoveAt(last)
}

// replaceMinKey updates the separator stored at position pos in an index
// node after a descendant's minimum key changed.
func replaceMinKey(index *pagestore.Node, pos int, newKey []byte) {
	index.ReplaceKey(pos, newKey)
}
