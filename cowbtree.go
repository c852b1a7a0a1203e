// Package cowbtree is the public facade over the persistent, copy-on-write
// B+tree engine: a single Engine owns one node store and hands out Tree
// handles whose clones are O(1) and whose mutations never disturb another
// clone's observable state.
//
// The tree algorithm, node codec, node store, and tree registry are kept in
// internal/ packages; this file only re-exports the surface a caller needs,
// the way tur's top-level cmd/turdb wires pkg/cowbtree without reaching
// into its guts.
package cowbtree

import (
	"github.com/ohad-rodeh/cowbtree/internal/cowbtree"
	"github.com/ohad-rodeh/cowbtree/internal/pagestore"
)

// Config, Tree, Stats, KeyOrder and ValueCodec are re-exported unchanged
// from internal/cowbtree: the facade adds an Engine to own the shared store
// and registry, nothing more.
type (
	Config     = cowbtree.Config
	Tree       = cowbtree.Tree
	Stats      = cowbtree.Stats
	KeyOrder   = cowbtree.KeyOrder
	ValueCodec = cowbtree.ValueCodec
)

// Sentinel errors, re-exported for callers that want to errors.Is against
// them.
var (
	ErrBatchTooLarge = cowbtree.ErrBatchTooLarge
	ErrNotSorted     = cowbtree.ErrNotSorted
	ErrInvalidConfig = cowbtree.ErrInvalidConfig
	ErrClosed        = cowbtree.ErrClosed
)

// DefaultKeyOrder and DefaultValueCodec are the defaults DefaultConfig
// installs; exported so callers can compose a partially-customized Config.
var (
	DefaultKeyOrder   = cowbtree.DefaultKeyOrder
	DefaultValueCodec = cowbtree.DefaultValueCodec
)

// DefaultConfig returns a Config with generous fanout bounds and
// byte-order comparison, suitable for general use.
func DefaultConfig() Config { return cowbtree.DefaultConfig() }

// Engine owns one node store (C1) and the tree registry (C5) over it. All
// trees created or cloned from the same Engine share the same underlying
// page address space, which is what makes cloning and COW sharing possible
// in the first place; trees from different Engines never interact.
type Engine struct {
	store    *pagestore.Store
	registry *cowbtree.Registry
}

// NewEngine creates an Engine with a fresh, empty node store.
func NewEngine() *Engine {
	st := pagestore.New()
	return &Engine{store: st, registry: cowbtree.NewRegistry(st)}
}

// Create allocates a new, empty tree (init_state + create in one call; the
// tid is assigned by the engine's own monotonic counter rather than
// supplied by the caller, since this facade owns tid allocation for every
// tree it creates or clones — see DESIGN.md).
func (e *Engine) Create(cfg Config) (*Tree, error) {
	return e.registry.Create(cfg)
}

// Clone produces a new, independently mutable tree sharing src's current
// content. O(1): only src's root refcount is touched.
func (e *Engine) Clone(src *Tree) (*Tree, error) {
	return e.registry.Clone(src)
}

// Delete empties t (deallocating every page it exclusively owns) and
// leaves it usable as a fresh empty tree.
func (e *Engine) Delete(t *Tree) error {
	return e.registry.Delete(t)
}

// Destroy empties t and retires it permanently; every subsequent operation
// on t returns ErrClosed.
func (e *Engine) Destroy(t *Tree) error {
	return e.registry.Destroy(t)
}

// Validate checks t's own structural invariants (ordering, fanout bounds,
// separator correctness).
func (e *Engine) Validate(t *Tree) (bool, error) {
	return cowbtree.Validate(t)
}

// ValidateClones checks that reachable-page multiplicity across every
// given tree agrees with the engine's own refcount for each page. trees
// must be every tree currently live in this engine for the check to be
// meaningful.
func (e *Engine) ValidateClones(trees []*Tree) (bool, error) {
	return cowbtree.ValidateClones(trees)
}

// Iter visits every page address reachable from t's current root exactly
// once.
func (e *Engine) Iter(t *Tree, visitor func(addr uint64)) error {
	return cowbtree.Iter(t, visitor)
}

// Stats returns the node store's allocation/relocation counters.
func (e *Engine) Stats() pagestore.Stats {
	return e.store.Stats()
}
