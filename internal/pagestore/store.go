package pagestore

import (
	"errors"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ohad-rodeh/cowbtree/internal/refcount"
)

// ErrNoSuchPage is returned by GetSL/GetXL when the requested address is not
// (or no longer) live in the store.
var ErrNoSuchPage = errors.New("pagestore: no such page")

// DefaultHotSetSize bounds the recency tracker's membership. It is not an
// eviction capacity: every page reachable from a live tree's root stays
// resident for as long as its refcount is nonzero, since this store has no
// secondary medium to spill onto (the physical page store is out of scope
// for the specification this module implements, and durability is an
// explicit non-goal). The tracker exists purely so HotSetSize can report a
// hot-set size, grounded on the flow-go forest's *lru.Cache-of-tries
// pattern.
const DefaultHotSetSize = 4096

// Store is the in-memory node store (C1): a conforming implementation of
// alloc / dealloc / get_sl / get_xl / release / mark_dirty /
// fs_inc_refcount / fs_get_refcount.
type Store struct {
	mu       sync.Mutex
	nodes    map[uint64]*Node
	refcnt   *refcount.Map
	nextAddr uint64

	hot     *lru.Cache
	yieldFn func()

	stats Stats
}

// Stats carries C1-level counters, independent of the tree's own Stats.
type Stats struct {
	AllocCount   uint64
	DeallocCount uint64
	GetCount     uint64
	ForkCount    uint64 // number of GetXL calls that had to fork a private working copy
}

// New creates an empty in-memory node store.
func New() *Store {
	hot, err := lru.New(DefaultHotSetSize)
	if err != nil {
		// Only fails for a non-positive size, which DefaultHotSetSize never is.
		panic(err)
	}
	return &Store{
		nodes:  make(map[uint64]*Node),
		refcnt: refcount.New(),
		hot:    hot,
	}
}

// SetYieldFunc installs a test-mode cooperative yield hook, called at every
// suspension point (alloc, dealloc, get_sl, get_xl) to shake out concurrency
// bugs, per the source's "yields at random inside node_alloc, node_dealloc,
// node_get" note. Production code never sets this; the zero value is a
// no-op.
func (s *Store) SetYieldFunc(f func()) {
	s.yieldFn = f
}

func (s *Store) maybeYield() {
	if s.yieldFn != nil {
		s.yieldFn()
	}
}

func (s *Store) noteHot(addr uint64) {
	s.hot.Add(addr, struct{}{})
}

// HotSetSize reports the recency tracker's current membership size (a
// debug/stats signal only, never an eviction capacity — see DefaultHotSetSize).
func (s *Store) HotSetSize() int {
	return s.hot.Len()
}

// Handle is a pinned, locked reference to a Node, returned by Alloc/GetSL/
// GetXL. It implements workunit.Releaser so the resource tracker can hold
// and release it uniformly with any other guarded resource.
type Handle struct {
	store     *Store
	node      *Node
	exclusive bool
	origAddr  uint64
}

// Node returns the handle's underlying page.
func (h *Handle) Node() *Node { return h.node }

// Addr returns the page address the handle currently refers to. After a
// mark_dirty call this reflects the handle's post-relocation address, not
// necessarily the address it was originally fetched at.
func (h *Handle) Addr() uint64 { return h.node.Addr() }

// Release unlocks and unpins the page. Safe to call exactly once per
// handle; callers route this through workunit.Unit in the tree algorithm so
// that every exit path, including errors, releases every outstanding handle.
func (h *Handle) Release() {
	if h.exclusive {
		h.node.Unlock()
	} else {
		h.node.RUnlock()
	}
	h.store.unpin(h.node)
}

func (s *Store) unpin(n *Node) {
	atomic.AddInt32(&n.pinCount, -1)
}

// Alloc allocates a fresh page of the given kind; returns it write-locked,
// pinned, refcount 1, zero-initialized.
func (s *Store) Alloc(leaf bool) *Handle {
	s.maybeYield()
	s.mu.Lock()
	s.nextAddr++
	addr := s.nextAddr
	var n *Node
	if leaf {
		n = newLeaf(addr)
	} else {
		n = newIndex(addr)
	}
	n.mu.Lock()
	s.nodes[addr] = n
	s.stats.AllocCount++
	s.mu.Unlock()

	s.refcnt.Set(addr, 1)
	atomic.AddInt32(&n.pinCount, 1)
	return &Handle{store: s, node: n, exclusive: true, origAddr: addr}
}

// Dealloc decrements addr's reference count; if it becomes 0, the page is
// physically freed and its address invalidated.
func (s *Store) Dealloc(addr uint64) {
	s.maybeYield()
	if s.refcnt.Dec(addr) == 0 {
		s.mu.Lock()
		delete(s.nodes, addr)
		s.stats.DeallocCount++
		s.mu.Unlock()
	}
}

// GetSL pins and read-locks the page at addr. Retries internally if the
// page relocated between lookup and lock acquisition.
func (s *Store) GetSL(addr uint64) (*Handle, error) {
	s.maybeYield()
	for {
		s.mu.Lock()
		n, ok := s.nodes[addr]
		if !ok {
			s.mu.Unlock()
			return nil, ErrNoSuchPage
		}
		atomic.AddInt32(&n.pinCount, 1)
		s.noteHot(addr)
		s.stats.GetCount++
		s.mu.Unlock()

		n.RLock()
		if n.Addr() != addr {
			n.RUnlock()
			s.unpin(n)
			continue
		}
		return &Handle{store: s, node: n, exclusive: false, origAddr: addr}, nil
	}
}

// GetXL pins and write-locks the page at addr. If the page's reference
// count exceeds 1 (it is shared with a clone), the returned handle wraps a
// private working copy rather than the shared node object itself: this
// store has no separate on-disk buffer to preserve the old content behind,
// so isolation for concurrent readers of other trees must be provided by
// never mutating a node object more than one tree can reach. The caller
// still independently observes FsGetRefcount(addr) and drives mark_dirty
// exactly per the specified protocol; the fork is invisible to that
// protocol, only to object identity.
func (s *Store) GetXL(addr uint64) (*Handle, error) {
	s.maybeYield()
	for {
		s.mu.Lock()
		n, ok := s.nodes[addr]
		if !ok {
			s.mu.Unlock()
			return nil, ErrNoSuchPage
		}
		atomic.AddInt32(&n.pinCount, 1)
		s.noteHot(addr)
		s.stats.GetCount++
		s.mu.Unlock()

		n.Lock()
		if n.Addr() != addr {
			n.Unlock()
			s.unpin(n)
			continue
		}

		if s.refcnt.Get(addr) > 1 {
			working := n.clone(addr)
			working.mu.Lock()
			n.Unlock()
			s.unpin(n)
			atomic.AddInt32(&working.pinCount, 1)
			s.mu.Lock()
			s.stats.ForkCount++
			s.mu.Unlock()
			return &Handle{store: s, node: working, exclusive: true, origAddr: addr}, nil
		}
		return &Handle{store: s, node: n, exclusive: true, origAddr: addr}, nil
	}
}

// MarkDirty implements the COW relocation contract. multiRef must be the
// value of FsGetRefcount(h.origAddr) observed by the caller before the
// write (spec's "observe fs_get_refcount... multi_ref := (refcount > 1)").
//
// If multiRef is false: the page is sole-owned, so it is rewritten in
// place and its address never changes — the same "never relocated"
// treatment this store already gives the root, extended to every
// sole-owner page. A relocating implementation would have to repair every
// other stored reference to the old address (a parent's child pointer, but
// also a leaf's nextLeaf pointer from its predecessor in the chain, which
// is never on the mutating call's descent path and so can never be found
// and fixed); spec.md only requires that mark_dirty "may" relocate, so
// this store takes the address-stable option rather than carry that
// unrepairable-reference risk.
//
// If multiRef is true: the store forks physical identity. The node
// currently held by h (the private working copy GetXL already produced) is
// published at a fresh address with refcount 1; the old address's refcount
// is decremented by one, transferring this tree's share onto the new page.
// If h.origAddr was a tree's root address, the caller must treat the
// returned address as a root-replace: update its own Tree.rootAddr field,
// not the store's notion of "the root page" (the old address remains a
// valid, unmoved root for whichever other tree still points at it).
func (s *Store) MarkDirty(h *Handle, multiRef bool) uint64 {
	n := h.node

	if !multiRef {
		return n.addr
	}

	s.mu.Lock()
	s.nextAddr++
	newAddr := s.nextAddr
	n.addr = newAddr
	s.nodes[newAddr] = n
	s.mu.Unlock()

	s.refcnt.Set(newAddr, 1)
	s.refcnt.Dec(h.origAddr)
	h.origAddr = newAddr
	return newAddr
}

// FsIncRefcount increments the reference count for addr.
func (s *Store) FsIncRefcount(addr uint64) uint32 { return s.refcnt.Inc(addr) }

// FsGetRefcount returns the current reference count for addr.
func (s *Store) FsGetRefcount(addr uint64) uint32 { return s.refcnt.Get(addr) }

// Stats returns a snapshot of the store's operation counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// LiveAddrs returns every address the store currently has a page for. Used
// by the "no leaks" testable property after every tree has been deleted.
func (s *Store) LiveAddrs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.nodes))
	for a := range s.nodes {
		out = append(out, a)
	}
	return out
}

// RefcountMap exposes the underlying reference-count map for validation
// (C5's validate_clones needs to compare reachability counts against it).
func (s *Store) RefcountMap() *refcount.Map { return s.refcnt }
