package cowbtree

import "sort"

// sortedOracle is the alternate reference implementation spec.md's
// TESTABLE PROPERTIES section calls for: a plain sorted slice of (key,
// value) pairs, checked for agreement against the tree under test after
// every operation. It exists only for tests.
type sortedOracle struct {
	keys   [][]byte
	values [][]byte
}

func (o *sortedOracle) find(key []byte) int {
	return sort.Search(len(o.keys), func(i int) bool {
		return DefaultKeyOrder.Cmp(o.keys[i], key) >= 0
	})
}

func (o *sortedOracle) insert(key, value []byte) (replaced bool) {
	i := o.find(key)
	if i < len(o.keys) && DefaultKeyOrder.Cmp(o.keys[i], key) == 0 {
		o.values[i] = value
		return true
	}
	o.keys = append(o.keys, nil)
	copy(o.keys[i+1:], o.keys[i:])
	o.keys[i] = key

	o.values = append(o.values, nil)
	copy(o.values[i+1:], o.values[i:])
	o.values[i] = value
	return false
}

func (o *sortedOracle) remove(key []byte) (removed bool) {
	i := o.find(key)
	if i >= len(o.keys) || DefaultKeyOrder.Cmp(o.keys[i], key) != 0 {
		return false
	}
	o.keys = append(o.keys[:i], o.keys[i+1:]...)
	o.values = append(o.values[:i], o.values[i+1:]...)
	return true
}

func (o *sortedOracle) lookup(key []byte) ([]byte, bool) {
	i := o.find(key)
	if i >= len(o.keys) || DefaultKeyOrder.Cmp(o.keys[i], key) != 0 {
		return nil, false
	}
	return o.values[i], true
}

func (o *sortedOracle) lookupRange(lo, hi []byte, maxN int) ([][]byte, [][]byte) {
	i := o.find(lo)
	var ks, vs [][]byte
	for ; i < len(o.keys); i++ {
		if DefaultKeyOrder.Cmp(o.keys[i], hi) > 0 {
			break
		}
		ks = append(ks, o.keys[i])
		vs = append(vs, o.values[i])
		if maxN > 0 && len(ks) == maxN {
			break
		}
	}
	return ks, vs
}

func (o *sortedOracle) count() int { return len(o.keys) }
