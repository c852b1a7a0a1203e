package cowbtree

import (
	"github.com/ohad-rodeh/cowbtree/internal/pagestore"
	"github.com/ohad-rodeh/cowbtree/internal/workunit"
)

// scanRange descends read-locked to the leaf containing lo (or its
// successor), then walks right across the leaf chain hand-over-hand,
// collecting entries whose key is in [lo, hi]. maxN <= 0 means unbounded.
// The work-unit passed in must be empty; scanRange leaves it empty on
// return (every handle is released before returning).
func (t *Tree) scanRange(wu *workunit.Unit, lo, hi []byte, maxN int) (keys, values [][]byte, n int, err error) {
	addr := t.rootAddr
	var leaf *pagestore.Handle
	for {
		h, gerr := t.store.GetSL(addr)
		if gerr != nil {
			return nil, nil, 0, gerr
		}
		wu.Acquire(h)
		nd := h.Node()
		if nd.IsLeaf() {
			leaf = h
			break
		}
		ci := findChildIndex(t.cfg.KeyOrder, nd, lo)
		next := nd.Child(ci)
		wu.Release(h)
		addr = next
	}

	first := true
	for leaf != nil {
		nd := leaf.Node()
		start := 0
		if first {
			_, start = search(t.cfg.KeyOrder, nd, lo)
			first = false
		}
		for i := start; i < nd.Count(); i++ {
			if t.cfg.KeyOrder.Cmp(nd.Key(i), hi) > 0 {
				wu.Release(leaf)
				return keys, values, n, nil
			}
			keys = append(keys, copyBytes(nd.Key(i)))
			values = append(values, copyBytes(nd.Value(i)))
			n++
			if maxN > 0 && n == maxN {
				wu.Release(leaf)
				return keys, values, n, nil
			}
		}
		nextAddr := nd.NextLeaf()
		wu.Release(leaf)
		if nextAddr == 0 {
			leaf = nil
			continue
		}
		nh, gerr := t.store.GetSL(nextAddr)
		if gerr != nil {
			return keys, values, n, gerr
		}
		wu.Acquire(nh)
		leaf = nh
	}
	return keys, values, n, nil
}

// LookupRange walks leaves in [lo, hi], stopping at hi or at max_n entries,
// whichever comes first.
func (t *Tree) LookupRange(lo, hi []byte, maxN int) (keys, values [][]byte, n int, err error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, nil, 0, ErrClosed
	}

	wu := workunit.New()
	defer wu.ReleaseAll()

	keys, values, n, err = t.scanRange(wu, lo, hi, maxN)
	wu.AssertEmpty()
	t.bump(func(s *Stats) { s.LookupCount++ })
	return keys, values, n, err
}

// InsertRange inserts a sorted, duplicate-free batch of (key, value) pairs.
// Semantically equivalent to a sequence of Insert calls: nReplaced counts
// how many keys already existed. The batch size is bounded by
// Config.MaxRangeBatch; exceeding it is reported synchronously with no
// state change, per spec.md's capacity-exhaustion error handling.
func (t *Tree) InsertRange(keys, values [][]byte) (nReplaced int, err error) {
	if len(keys) > t.cfg.MaxRangeBatch {
		return 0, ErrBatchTooLarge
	}
	for i := 1; i < len(keys); i++ {
		if t.cfg.KeyOrder.Cmp(keys[i-1], keys[i]) >= 0 {
			return 0, ErrNotSorted
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}

	for i := range keys {
		wu := workunit.New()
		rh, gerr := t.store.GetXL(t.rootAddr)
		if gerr != nil {
			wu.ReleaseAll()
			return nReplaced, gerr
		}
		wu.Acquire(rh)
		if isFull(t.cfg, rh.Node()) {
			rh = t.splitRootInPlace(wu, rh)
		}
		replaced, newAddr, addrChanged, _ := t.insertStep(wu, rh, copyBytes(keys[i]), copyBytes(values[i]))
		if addrChanged {
			t.rootAddr = newAddr
		}
		wu.Release(rh)
		wu.AssertEmpty()

		if replaced {
			nReplaced++
			t.bump(func(s *Stats) { s.InsertCount++ })
		} else {
			t.bump(func(s *Stats) { s.InsertCount++; s.KeyCount++ })
		}
	}
	return nReplaced, nil
}

// RemoveRange removes every key in [lo, hi], returning the count removed.
// Invoking RemoveRange a second time with the same bounds returns 0
// (idempotence). Implemented as repeated single-key removal rather than
// the bulk whole-subtree dealloc spec.md describes as an available
// optimization for fully-contained subtrees: both produce the same
// observable map state and the same final refcounts, since a subtree
// dealloc and a sequence of leaf-level removes release exactly the same
// set of pages — see DESIGN.md.
func (t *Tree) RemoveRange(lo, hi []byte) (nRemoved int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}

	wu := workunit.New()
	victims, _, _, serr := t.scanRange(wu, lo, hi, -1)
	wu.AssertEmpty()
	if serr != nil {
		return 0, serr
	}

	for _, key := range victims {
		wu2 := workunit.New()
		rh, gerr := t.store.GetXL(t.rootAddr)
		if gerr != nil {
			wu2.ReleaseAll()
			return nRemoved, gerr
		}
		wu2.Acquire(rh)
		removed, newAddr, addrChanged, _ := t.removeStep(wu2, rh, key)
		if addrChanged {
			t.rootAddr = newAddr
		}
		t.maybeCollapseRoot(wu2, rh)
		wu2.Release(rh)
		wu2.AssertEmpty()

		if removed {
			nRemoved++
			t.bump(func(s *Stats) { s.DeleteCount++; s.KeyCount-- })
		}
	}
	return nRemoved, nil
}
