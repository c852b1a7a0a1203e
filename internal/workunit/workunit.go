// Package workunit implements the resource-tracking harness (C6): a
// per-operation work-unit that owns the set of currently held node locks and
// pinned pages, released on every exit path including errors.
//
// Grounded directly on the source's oc_utl_trk.c: a bounded array of held
// reference handles (there, Oc_crt_rw_lock pointers) with a LIFO-biased
// add/remove discipline, sized to the deepest tree the fanout allows
// (OC_UTL_TRK_MAX_REFS there, MaxRefs here). In Go the natural expression of
// "release on drop" is a guard value (the Releaser handed to Acquire) and a
// deferred ReleaseAll; the tracker's job degenerates to bookkeeping plus the final
// assert-empty check spec.md requires.
package workunit

import "fmt"

// MaxRefs bounds the number of simultaneously held references a single
// operation may accumulate. Sized as spec.md states: "capacity ~30 is
// sufficient for the deepest tree the fanout allows."
const MaxRefs = 30

// Releaser is anything a work-unit can hold a reference to and later
// release: a locked/pinned node, most commonly.
type Releaser interface {
	Release()
}

// Unit is the per-operation resource tracker. The zero value is an empty
// work-unit, the same value New returns.
type Unit struct {
	refs   [MaxRefs]Releaser
	cursor int
	sum    int
}

// New returns an empty work-unit.
func New() *Unit {
	return &Unit{}
}

// Acquire records that ref is now held by this work-unit. Panics if the
// bounded capacity is exceeded, matching oc_utl_trk.c's
// "oc_utl_assert(refs_p->sum <= OC_UTL_TRK_MAX_REFS)" — this is a logic
// invariant violation (a tree deeper than the fanout bounds allow), never a
// recoverable condition.
func (u *Unit) Acquire(ref Releaser) {
	if u.sum >= MaxRefs {
		panic(fmt.Sprintf("workunit: exceeded MaxRefs=%d held references", MaxRefs))
	}
	if u.cursor == u.sum {
		u.refs[u.cursor] = ref
		u.cursor++
		u.sum++
		return
	}
	// There is a gap left by an earlier out-of-order Release; reuse it.
	for i := u.cursor - 1; i >= 0; i-- {
		if u.refs[i] == nil {
			u.refs[i] = ref
			u.sum++
			return
		}
	}
	panic("workunit: inconsistent free-slot bookkeeping")
}

// Release removes ref from the held set and calls its Release method. It is
// a logic-invariant violation to release a reference the work-unit never
// acquired.
func (u *Unit) Release(ref Releaser) {
	if u.sum == 0 {
		panic("workunit: Release called with no references held")
	}
	u.sum--

	if u.cursor > 0 && u.refs[u.cursor-1] == ref {
		// Fast path: released in LIFO order, the common case for a descent.
		u.refs[u.cursor-1] = nil
		u.cursor--
		for u.cursor >= 1 && u.refs[u.cursor-1] == nil {
			u.cursor--
		}
		ref.Release()
		return
	}

	for i := u.cursor - 1; i >= 0; i-- {
		if u.refs[i] == ref {
			u.refs[i] = nil
			ref.Release()
			return
		}
	}
	panic("workunit: released a reference that was never acquired")
}

// ReleaseAll releases every still-held reference, in LIFO order. Intended to
// be deferred by every operation's entry point so that an early return
// (including a panic recovered higher up) cannot leak a pin or a lock.
func (u *Unit) ReleaseAll() {
	for i := u.cursor - 1; i >= 0; i-- {
		if u.refs[i] != nil {
			u.refs[i].Release()
			u.refs[i] = nil
		}
	}
	u.cursor = 0
	u.sum = 0
}

// Held reports the number of references currently held.
func (u *Unit) Held() int {
	return u.sum
}

// AssertEmpty panics if the work-unit still holds references. Call at the
// end of every completed operation, after the deferred ReleaseAll would
// already have fired on an error path — this is the "no leaks" discipline
// spec.md requires of every operation's exit.
func (u *Unit) AssertEmpty() {
	if u.sum != 0 {
		panic(fmt.Sprintf("workunit: %d references still held at operation exit", u.sum))
	}
}
