package cowbtree

// Config carries the per-tree, immutable-for-the-tree's-lifetime parameters
// spec.md's External Interfaces section names. Grounded on pkg/cowbtree/node.go's
// NodeConfig / DefaultNodeConfig pair and intellect4all/btree.Config's
// Config / DefaultConfig convention.
type Config struct {
	// RootFanout is F_root: the maximum number of entries in the root node.
	RootFanout int
	// NonRootFanout is F: the maximum number of entries in any non-root node.
	NonRootFanout int
	// MinFanout is m: the minimum number of entries in any non-root node.
	MinFanout int

	// KeyOrder supplies cmp and inc. Defaults to DefaultKeyOrder.
	KeyOrder KeyOrder
	// ValueCodec supplies the value_release hook. Defaults to
	// DefaultValueCodec (a no-op).
	ValueCodec ValueCodec

	// MaxRangeBatch bounds a single InsertRange call, matching the
	// source's implementation-defined cap (~30) on insert_range batch
	// size (spec.md §9 Open Questions).
	MaxRangeBatch int
}

// DefaultConfig returns a Config suitable for general use: fanout bounds
// generous enough for real workloads, default byte-order key comparison, no
// value-release side effects.
func DefaultConfig() Config {
	return Config{
		RootFanout:    128,
		NonRootFanout: 128,
		MinFanout:     64,
		KeyOrder:      DefaultKeyOrder,
		ValueCodec:    DefaultValueCodec,
		MaxRangeBatch: 30,
	}
}

// Validate checks the fanout constraints spec.md's Data Model requires:
// 2 <= m <= ceil(F/2) and F_root <= F. It also fills in any zero-valued
// capability fields with their defaults.
func (c *Config) Validate() error {
	if c.KeyOrder == nil {
		c.KeyOrder = DefaultKeyOrder
	}
	if c.ValueCodec == nil {
		c.ValueCodec = DefaultValueCodec
	}
	if c.MaxRangeBatch <= 0 {
		c.MaxRangeBatch = 30
	}

	if c.MinFanout < 2 {
		return ErrInvalidConfig
	}
	ceilHalfF := (c.NonRootFanout + 1) / 2
	if c.MinFanout > ceilHalfF {
		return ErrInvalidConfig
	}
	if c.RootFanout > c.NonRootFanout {
		return ErrInvalidConfig
	}
	if c.RootFanout < 2 {
		return ErrInvalidConfig
	}
	return nil
}
