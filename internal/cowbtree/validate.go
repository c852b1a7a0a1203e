package cowbtree

// Iter depth-first walks every page reachable from t's current root and
// calls visitor once per address. It takes t's own lock for the duration
// (a structural snapshot), per spec.md's "internal, used by validation"
// note — it is not meant as a general-purpose public traversal API.
func Iter(t *Tree, visitor func(addr uint64)) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}
	return iterSubtree(t, t.rootAddr, visitor)
}

func iterSubtree(t *Tree, addr uint64, visitor func(addr uint64)) error {
	h, err := t.store.GetSL(addr)
	if err != nil {
		return err
	}
	n := h.Node()
	visitor(addr)

	var children []uint64
	if !n.IsLeaf() {
		children = make([]uint64, n.Count())
		for i := range children {
			children[i] = n.Child(i)
		}
	}
	h.Release()

	for _, c := range children {
		if err := iterSubtree(t, c, visitor); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks t's structural invariants: sorted keys within every
// node, correct index separators (child i's minimum key equals the
// separator stored for it), and fanout bounds (root exempted from the
// minimum, per isUnderflow's own root exemption). It returns false (not an
// error) on any violation; an error return means the store itself
// misbehaved (a dangling address).
func Validate(t *Tree) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false, ErrClosed
	}
	return validateSubtree(t, t.rootAddr, nil, nil)
}

// validateSubtree validates the subtree at addr and, if lo/hi are non-nil,
// checks that its first key equals lo (the separator its parent stores for
// it) and that every key in it falls below hi.
func validateSubtree(t *Tree, addr uint64, lo, hi []byte) (bool, error) {
	h, err := t.store.GetSL(addr)
	if err != nil {
		return false, err
	}
	n := h.Node()
	defer h.Release()

	count := n.Count()
	if n.IsRoot() {
		if count > t.cfg.RootFanout {
			return false, nil
		}
	} else {
		if count < t.cfg.MinFanout || count > t.cfg.NonRootFanout {
			return false, nil
		}
	}

	for i := 1; i < count; i++ {
		if t.cfg.KeyOrder.Cmp(n.Key(i-1), n.Key(i)) >= 0 {
			return false, nil
		}
	}
	if count > 0 {
		if lo != nil && t.cfg.KeyOrder.Cmp(n.Key(0), lo) != 0 {
			return false, nil
		}
		if hi != nil && t.cfg.KeyOrder.Cmp(n.Key(count-1), hi) >= 0 {
			return false, nil
		}
	}

	if n.IsLeaf() {
		return true, nil
	}

	children := make([]uint64, count)
	keys := make([][]byte, count)
	for i := 0; i < count; i++ {
		children[i] = n.Child(i)
		keys[i] = copyBytes(n.Key(i))
	}

	for i, childAddr := range children {
		var childHi []byte
		if i+1 < count {
			childHi = keys[i+1]
		} else {
			childHi = hi
		}
		ok, verr := validateSubtree(t, childAddr, keys[i], childHi)
		if verr != nil {
			return false, verr
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// ValidateClones checks that, across the given set of trees (assumed to be
// every currently live tree derived from a common lineage), every
// reachable page's multiplicity across all of them equals the store's own
// refcount for that page. This is the testable "refcount correctness"
// property: per-tree structure can be locally valid while
// still leaking or double-counting a shared page.
func ValidateClones(trees []*Tree) (bool, error) {
	multiplicity := make(map[uint64]uint32)
	for _, t := range trees {
		if ok, err := Validate(t); err != nil {
			return false, err
		} else if !ok {
			return false, nil
		}
		if err := Iter(t, func(addr uint64) { multiplicity[addr]++ }); err != nil {
			return false, err
		}
	}

	if len(trees) == 0 {
		return true, nil
	}
	refs := trees[0].store.RefcountMap().Snapshot()
	for addr, want := range multiplicity {
		if refs[addr] != want {
			return false, nil
		}
	}
	return true, nil
}
