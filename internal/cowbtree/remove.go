package cowbtree

import (
	"github.com/ohad-rodeh/cowbtree/internal/pagestore"
	"github.com/ohad-rodeh/cowbtree/internal/telemetry"
	"github.com/ohad-rodeh/cowbtree/internal/workunit"
)

// Remove deletes key if present, pre-rebalancing any child found at the
// minimum fanout before descending into it so a deletion never has to
// propagate an underflow back up on its own. Removing an absent key is not
// an error; it simply returns removed = false.
func (t *Tree) Remove(key []byte) (removed bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false, ErrClosed
	}

	wu := workunit.New()
	defer wu.ReleaseAll()

	rh, err := t.store.GetXL(t.rootAddr)
	if err != nil {
		return false, err
	}
	wu.Acquire(rh)

	removed, newAddr, addrChanged, _ := t.removeStep(wu, rh, key)
	if addrChanged {
		// The root page was shared and mark_dirty forked it: root-replace.
		t.rootAddr = newAddr
	}
	t.maybeCollapseRoot(wu, rh)
	wu.Release(rh)
	wu.AssertEmpty()

	if removed {
		t.bump(func(s *Stats) { s.DeleteCount++; s.KeyCount-- })
	}
	return removed, nil
}

// removeStep implements the recursive descent. h must already be
// write-locked. Any child about to be descended into is rebalanced first
// (via rebalanceChild) so it never enters the recursion at minimum. Returns
// whether the key was found and removed, this node's current address,
// whether the address changed, and this node's new minimum key if it
// changed (conservatively reported whenever position 0 was touched, even if
// the key value happens to be unchanged — replace_min_key with an identical
// key is a harmless no-op for the caller).
func (t *Tree) removeStep(wu *workunit.Unit, h *pagestore.Handle, key []byte) (removed bool, addr uint64, addrChanged bool, newMinKey []byte) {
	n := h.Node()

	if n.IsLeaf() {
		found, pos := search(t.cfg.KeyOrder, n, key)
		if !found {
			return false, h.Addr(), false, nil
		}

		t.cfg.ValueCodec.Release(n.Value(pos))
		n.RemoveAt(pos)

		multiRef := t.store.FsGetRefcount(h.Addr()) > 1
		if multiRef {
			t.bump(func(s *Stats) { s.CowForkCount++ })
		}
		origAddr := h.Addr()
		na := t.store.MarkDirty(h, multiRef)

		var mk []byte
		if pos == 0 && n.Count() > 0 {
			mk = copyBytes(n.Key(0))
		}
		return true, na, na != origAddr, mk
	}

	ci := findChildIndex(t.cfg.KeyOrder, n, key)
	ch, ci, rebalanced := t.rebalanceChild(wu, n, ci)

	childRemoved, childAddr2, childAddrChanged, childMinKey := t.removeStep(wu, ch, key)
	wu.Release(ch)

	nodeMutated := rebalanced
	if childAddrChanged {
		n.SetChild(ci, childAddr2)
		nodeMutated = true
	}
	if childMinKey != nil {
		replaceMinKey(n, ci, childMinKey)
		nodeMutated = true
	}

	if !nodeMutated {
		return childRemoved, h.Addr(), false, nil
	}

	multiRef := t.store.FsGetRefcount(h.Addr()) > 1
	if multiRef {
		t.bump(func(s *Stats) { s.CowForkCount++ })
	}
	origAddr := h.Addr()
	na := t.store.MarkDirty(h, multiRef)

	var mk []byte
	if ci == 0 {
		mk = copyBytes(n.Key(0))
	}
	return childRemoved, na, na != origAddr, mk
}

// rebalanceChild fetches the child at position ci of parentNode (already
// write-locked, tracked by wu) and, if it is at or below the minimum
// fanout, rotates an entry from a sibling or merges with one before
// returning. Siblings are checked right-first: per spec.md §4.3's
// tie-breaking note ("when both siblings qualify for rotation, prefer the
// right sibling"), this is read as governing the check order itself, since
// an order that checks the left sibling first could never produce a
// right-preferring outcome when both qualify.
//
// Returns the handle to descend into, its (possibly shifted, after a
// merge-left) position in parentNode, and whether parentNode itself was
// structurally mutated (requiring its own mark_dirty in the caller).
func (t *Tree) rebalanceChild(wu *workunit.Unit, parentNode *pagestore.Node, ci int) (handle *pagestore.Handle, newCI int, mutated bool) {
	ch, err := t.store.GetXL(parentNode.Child(ci))
	if err != nil {
		telemetry.Fatalf(nil, "cowbtree: store failure fetching child %d: %v", parentNode.Child(ci), err)
	}
	wu.Acquire(ch)

	if ch.Node().Count() > t.cfg.MinFanout {
		return ch, ci, false
	}

	var lh, rh *pagestore.Handle
	if ci > 0 {
		lh, err = t.store.GetXL(parentNode.Child(ci - 1))
		if err != nil {
			telemetry.Fatalf(nil, "cowbtree: store failure fetching left sibling: %v", err)
		}
		wu.Acquire(lh)
	}
	if ci+1 < parentNode.Count() {
		rh, err = t.store.GetXL(parentNode.Child(ci + 1))
		if err != nil {
			telemetry.Fatalf(nil, "cowbtree: store failure fetching right sibling: %v", err)
		}
		wu.Acquire(rh)
	}

	switch {
	case rh != nil && rh.Node().Count() > t.cfg.MinFanout:
		moveMin(rh.Node(), ch.Node())
		cMulti := t.store.FsGetRefcount(ch.Addr()) > 1
		cAddr := t.store.MarkDirty(ch, cMulti)
		rMulti := t.store.FsGetRefcount(rh.Addr()) > 1
		rAddr := t.store.MarkDirty(rh, rMulti)
		parentNode.SetChild(ci, cAddr)
		parentNode.SetChild(ci+1, rAddr)
		replaceMinKey(parentNode, ci+1, copyBytes(rh.Node().Key(0)))
		if lh != nil {
			wu.Release(lh)
		}
		wu.Release(rh)
		t.bump(func(s *Stats) { s.RotateCount++; s.RebalanceCount++ })
		return ch, ci, true

	case lh != nil && lh.Node().Count() > t.cfg.MinFanout:
		moveMax(lh.Node(), ch.Node())
		lMulti := t.store.FsGetRefcount(lh.Addr()) > 1
		lAddr := t.store.MarkDirty(lh, lMulti)
		cMulti := t.store.FsGetRefcount(ch.Addr()) > 1
		cAddr := t.store.MarkDirty(ch, cMulti)
		parentNode.SetChild(ci-1, lAddr)
		parentNode.SetChild(ci, cAddr)
		replaceMinKey(parentNode, ci, copyBytes(ch.Node().Key(0)))
		if rh != nil {
			wu.Release(rh)
		}
		wu.Release(lh)
		t.bump(func(s *Stats) { s.RotateCount++; s.RebalanceCount++ })
		return ch, ci, true

	case lh != nil:
		// Merge N (at minimum) into L; L absorbs N's entries and keeps its
		// own minimum key, so only the parent's entry for N is removed.
		mergeIntoLeft(lh.Node(), ch.Node())
		lMulti := t.store.FsGetRefcount(lh.Addr()) > 1
		lAddr := t.store.MarkDirty(lh, lMulti)
		parentNode.SetChild(ci-1, lAddr)
		parentNode.RemoveAt(ci)
		t.store.Dealloc(ch.Addr())
		if rh != nil {
			wu.Release(rh)
		}
		wu.Release(ch)
		t.bump(func(s *Stats) { s.MergeCount++; s.RebalanceCount++ })
		return lh, ci - 1, true

	default:
		// No left sibling: merge R into N. N keeps its own minimum key, so
		// only the parent's entry for R is removed.
		mergeIntoLeft(ch.Node(), rh.Node())
		cMulti := t.store.FsGetRefcount(ch.Addr()) > 1
		cAddr := t.store.MarkDirty(ch, cMulti)
		parentNode.SetChild(ci, cAddr)
		parentNode.RemoveAt(ci + 1)
		t.store.Dealloc(rh.Addr())
		wu.Release(rh)
		t.bump(func(s *Stats) { s.MergeCount++; s.RebalanceCount++ })
		return ch, ci, true
	}
}

// maybeCollapseRoot copies a sole remaining child's content up into the
// root when the root has decayed to a single-entry index, keeping the
// root's own identity (address) intact except for the usual root-replace
// exception when it was shared. Non-root invariants guarantee the child has
// at least MinFanout entries, so a single collapse can never leave the new
// root needing another one.
func (t *Tree) maybeCollapseRoot(wu *workunit.Unit, rh *pagestore.Handle) {
	root := rh.Node()
	if root.IsLeaf() || root.Count() != 1 {
		return
	}

	ch, err := t.store.GetXL(root.Child(0))
	if err != nil {
		telemetry.Fatalf(nil, "cowbtree: store failure fetching sole root child: %v", err)
	}
	wu.Acquire(ch)

	origAddr := rh.Addr()
	multiRef := t.store.FsGetRefcount(origAddr) > 1
	root.CopyContentFrom(ch.Node())
	newAddr := t.store.MarkDirty(rh, multiRef)
	if multiRef {
		t.rootAddr = newAddr
	}

	t.store.Dealloc(ch.Addr())
	wu.Release(ch)
	t.bump(func(s *Stats) { s.MergeCount++ })
}
