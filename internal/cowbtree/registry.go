package cowbtree

import (
	"sync"

	"github.com/ohad-rodeh/cowbtree/internal/pagestore"
	"github.com/ohad-rodeh/cowbtree/internal/telemetry"
)

// Registry is the tree-management layer (C5): init_state/create/clone/
// delete/destroy over a shared pagestore.Store, and the monotonic tid
// allocator every live Tree is stamped with. Grounded on pkg/cowbtree's
// transient, read-only Snapshot (substantially extended here to produce an
// independently mutable clone) and on pkg/mvcc/store.go's monotonic-counter
// idiom for transaction-id allocation, used here purely for tid assignment.
type Registry struct {
	mu      sync.Mutex
	store   *pagestore.Store
	nextTid uint64
	trees   map[uint64]*Tree
}

// NewRegistry creates an empty registry over store.
func NewRegistry(store *pagestore.Store) *Registry {
	return &Registry{
		store: store,
		trees: make(map[uint64]*Tree),
	}
}

// Create allocates a fresh, empty tree: a singleton root leaf at refcount 1.
// cfg is validated (and defaulted) before the tree is created.
func (r *Registry) Create(cfg Config) (*Tree, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	tid := r.nextTid
	r.nextTid++
	r.mu.Unlock()

	rh := r.store.Alloc(true)
	rh.Node().SetRoot(true)
	addr := rh.Addr()
	rh.Release()

	t := &Tree{
		cfg:      cfg,
		store:    r.store,
		registry: r,
		tid:      tid,
		rootAddr: addr,
	}

	r.mu.Lock()
	r.trees[tid] = t
	r.mu.Unlock()

	telemetry.CloneEvent("create", tid, addr)
	return t, nil
}

// Clone produces a new, independently mutable tree sharing src's current
// root page. Only the root's refcount is incremented here — per spec.md's
// DATA MODEL, interior pages become transitively shared because the root
// is shared, and their own refcounts are adjusted lazily, exactly when a
// shared page is first modified by one of the clones. This is the entire
// mechanism that makes Clone an O(1) operation regardless of tree size.
func (r *Registry) Clone(src *Tree) (*Tree, error) {
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.closed {
		return nil, ErrClosed
	}

	r.mu.Lock()
	tid := r.nextTid
	r.nextTid++
	r.mu.Unlock()

	r.store.FsIncRefcount(src.rootAddr)

	dst := &Tree{
		cfg:      src.cfg,
		store:    r.store,
		registry: r,
		tid:      tid,
		rootAddr: src.rootAddr,
	}

	r.mu.Lock()
	r.trees[tid] = dst
	r.mu.Unlock()

	src.bump(func(s *Stats) { s.CloneCount++ })
	telemetry.CloneEvent("clone", tid, src.rootAddr)
	return dst, nil
}

// Delete walks t's tree and deallocs every page it still exclusively owns
// (pages shared with a surviving clone merely have their refcount
// decremented), then replaces t's content with a fresh empty root. t
// remains usable afterward — this is spec.md's delete(), distinct from
// destroy() which retires the tree entirely.
func (r *Registry) Delete(t *Tree) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	r.deallocSubtree(t.rootAddr)

	rh := r.store.Alloc(true)
	rh.Node().SetRoot(true)
	t.rootAddr = rh.Addr()
	rh.Release()

	t.statsMu.Lock()
	t.stats = Stats{}
	t.statsMu.Unlock()

	telemetry.CloneEvent("delete", t.tid, t.rootAddr)
	return nil
}

// Destroy deallocs every page t still exclusively owns and retires t from
// the registry; t is unusable afterward (every subsequent call returns
// ErrClosed). A second Destroy of the same tree changes nothing and returns
// ErrClosed.
func (r *Registry) Destroy(t *Tree) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	r.deallocSubtree(t.rootAddr)
	t.closed = true
	t.mu.Unlock()

	r.mu.Lock()
	delete(r.trees, t.tid)
	r.mu.Unlock()

	telemetry.CloneEvent("destroy", t.tid, 0)
	return nil
}

// Clone is a convenience wrapper around t's own registry's Clone, so
// callers holding only a *Tree (not the Engine/Registry that produced it)
// can still derive a new clone from it.
func (t *Tree) Clone() (*Tree, error) {
	return t.registry.Clone(t)
}

// DeleteSelf empties t via its own registry, leaving t usable afterward.
func (t *Tree) DeleteSelf() error {
	return t.registry.Delete(t)
}

// DestroySelf empties t and retires it via its own registry; t is
// unusable afterward.
func (t *Tree) DestroySelf() error {
	return t.registry.Destroy(t)
}

// deallocSubtree depth-first walks the subtree rooted at addr, decrementing
// each page's refcount. Recursion into a page's children only happens when
// that page's own refcount just dropped to zero: a refcount > 1 means some
// other clone still depends on this exact page and everything beneath it
// (lazy refcounting never touched the children at clone time, so they are
// still wholly that other clone's to account for).
func (r *Registry) deallocSubtree(addr uint64) {
	h, err := r.store.GetXL(addr)
	if err != nil {
		telemetry.Fatalf(nil, "cowbtree: delete walk failed at page %d: %v", addr, err)
	}
	n := h.Node()
	var children []uint64
	if !n.IsLeaf() {
		children = make([]uint64, n.Count())
		for i := range children {
			children[i] = n.Child(i)
		}
	}
	h.Release()

	wasSoleOwner := r.store.FsGetRefcount(addr) == 1
	r.store.Dealloc(addr)

	if !wasSoleOwner {
		return
	}
	for _, c := range children {
		r.deallocSubtree(c)
	}
}
