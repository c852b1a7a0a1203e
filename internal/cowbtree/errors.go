package cowbtree

import "errors"

// Sentinel errors. Not-found conditions are never represented this way
// (spec.md: "normal, returned as a boolean — not an error"); these cover
// ordinary (non-fatal) errors: batch capacity exhaustion, unsorted range
// input, invalid configuration, and use of a destroyed tree.
var (
	// ErrBatchTooLarge is returned by InsertRange when the caller's batch
	// exceeds Config.MaxRangeBatch. No state is changed.
	ErrBatchTooLarge = errors.New("cowbtree: insert_range batch exceeds configured maximum")

	// ErrNotSorted is returned by InsertRange when the input keys are not
	// strictly increasing, violating the precondition spec.md states
	// implementers may enforce ("the input is assumed sorted and
	// duplicate-free; implementers may require this").
	ErrNotSorted = errors.New("cowbtree: insert_range input is not strictly sorted")

	// ErrInvalidConfig is returned by Config.Validate/Registry.Create when
	// the fanout constraints (2 <= m <= ceil(F/2), 2 <= F_root <= F) do not
	// hold.
	ErrInvalidConfig = errors.New("cowbtree: invalid fanout configuration")

	// ErrClosed is returned by any operation on a tree that has been
	// destroyed. A deleted tree stays usable as an empty tree.
	ErrClosed = errors.New("cowbtree: tree is closed")

	// ErrUnknownTree names a tid that is not (or no longer) registered. No
	// Registry operation returns it: they all take a *Tree, not a tid.
	ErrUnknownTree = errors.New("cowbtree: unknown tree id")
)
