package cowbtree

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/ohad-rodeh/cowbtree/internal/pagestore"
)

// smallFanoutConfig forces splits/merges/rotations to fire after only a
// handful of keys, so structural tests don't need thousands of inserts to
// exercise the rebalance paths.
func smallFanoutConfig() Config {
	return Config{
		RootFanout:    4,
		NonRootFanout: 4,
		MinFanout:     2,
		KeyOrder:      DefaultKeyOrder,
		ValueCodec:    DefaultValueCodec,
		MaxRangeBatch: 30,
	}
}

func newTestTree(t *testing.T, cfg Config) (*Registry, *Tree) {
	t.Helper()
	store := pagestore.New()
	reg := NewRegistry(store)
	tr, err := reg.Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return reg, tr
}

func key(i int) []byte { return []byte(fmt.Sprintf("k%05d", i)) }
func val(i int) []byte { return []byte(fmt.Sprintf("v%05d", i)) }

func TestInsertLookupBasic(t *testing.T) {
	_, tr := newTestTree(t, DefaultConfig())

	replaced, err := tr.Insert([]byte("a"), []byte("1"))
	if err != nil || replaced {
		t.Fatalf("Insert: replaced=%v err=%v", replaced, err)
	}

	v, ok, err := tr.Lookup([]byte("a"))
	if err != nil || !ok || !bytes.Equal(v, []byte("1")) {
		t.Fatalf("Lookup: v=%q ok=%v err=%v", v, ok, err)
	}

	_, ok, err = tr.Lookup([]byte("missing"))
	if err != nil || ok {
		t.Fatalf("Lookup of absent key: ok=%v err=%v", ok, err)
	}
}

func TestInsertReplace(t *testing.T) {
	_, tr := newTestTree(t, DefaultConfig())

	if replaced, _ := tr.Insert([]byte("k"), []byte("v1")); replaced {
		t.Fatal("first insert reported replaced=true")
	}
	replaced, err := tr.Insert([]byte("k"), []byte("v2"))
	if err != nil || !replaced {
		t.Fatalf("second insert: replaced=%v err=%v", replaced, err)
	}
	v, ok, _ := tr.Lookup([]byte("k"))
	if !ok || !bytes.Equal(v, []byte("v2")) {
		t.Fatalf("got %q, want v2", v)
	}
	if tr.Stats().KeyCount != 1 {
		t.Fatalf("KeyCount = %d, want 1", tr.Stats().KeyCount)
	}
}

func TestSplitUnderSmallFanout(t *testing.T) {
	_, tr := newTestTree(t, smallFanoutConfig())

	const n = 200
	for i := 0; i < n; i++ {
		if _, err := tr.Insert(key(i), val(i)); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		v, ok, err := tr.Lookup(key(i))
		if err != nil || !ok {
			t.Fatalf("Lookup %d: ok=%v err=%v", i, ok, err)
		}
		if !bytes.Equal(v, val(i)) {
			t.Fatalf("Lookup %d: got %q want %q", i, v, val(i))
		}
	}
	if tr.Stats().SplitCount == 0 {
		t.Fatal("expected at least one split under a small fanout config")
	}
	if ok, err := Validate(tr); err != nil || !ok {
		t.Fatalf("Validate: ok=%v err=%v", ok, err)
	}
}

func TestRemoveBasic(t *testing.T) {
	_, tr := newTestTree(t, DefaultConfig())
	tr.Insert([]byte("a"), []byte("1"))
	tr.Insert([]byte("b"), []byte("2"))

	removed, err := tr.Remove([]byte("a"))
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	if _, ok, _ := tr.Lookup([]byte("a")); ok {
		t.Fatal("key still present after Remove")
	}

	removed, err = tr.Remove([]byte("a"))
	if err != nil || removed {
		t.Fatalf("Remove of already-absent key: removed=%v err=%v", removed, err)
	}
}

func TestRemoveTriggersRotateAndMergeUnderSmallFanout(t *testing.T) {
	_, tr := newTestTree(t, smallFanoutConfig())

	const n = 300
	for i := 0; i < n; i++ {
		tr.Insert(key(i), val(i))
	}

	// Remove every other key, forcing both rotations and merges at the leaf
	// level and possibly a root collapse.
	for i := 0; i < n; i += 2 {
		removed, err := tr.Remove(key(i))
		if err != nil || !removed {
			t.Fatalf("Remove %d: removed=%v err=%v", i, removed, err)
		}
	}

	for i := 0; i < n; i++ {
		v, ok, err := tr.Lookup(key(i))
		if err != nil {
			t.Fatalf("Lookup %d: %v", i, err)
		}
		if i%2 == 0 {
			if ok {
				t.Fatalf("key %d should have been removed", i)
			}
		} else {
			if !ok || !bytes.Equal(v, val(i)) {
				t.Fatalf("key %d: got v=%q ok=%v", i, v, ok)
			}
		}
	}

	st := tr.Stats()
	if st.RotateCount == 0 || st.MergeCount == 0 {
		t.Fatalf("expected both rotations and merges under a small fanout config: rotations=%d merges=%d", st.RotateCount, st.MergeCount)
	}
	if ok, err := Validate(tr); err != nil || !ok {
		t.Fatalf("Validate after deletions: ok=%v err=%v", ok, err)
	}
}

func TestRemoveAllCollapsesToEmptyTree(t *testing.T) {
	_, tr := newTestTree(t, smallFanoutConfig())

	const n = 150
	for i := 0; i < n; i++ {
		tr.Insert(key(i), val(i))
	}
	for i := 0; i < n; i++ {
		if removed, err := tr.Remove(key(i)); err != nil || !removed {
			t.Fatalf("Remove %d: removed=%v err=%v", i, removed, err)
		}
	}
	if tr.Stats().KeyCount != 0 {
		t.Fatalf("KeyCount = %d, want 0", tr.Stats().KeyCount)
	}
	if ok, err := Validate(tr); err != nil || !ok {
		t.Fatalf("Validate on empty tree: ok=%v err=%v", ok, err)
	}
	for i := 0; i < n; i++ {
		if _, ok, _ := tr.Lookup(key(i)); ok {
			t.Fatalf("key %d unexpectedly still present", i)
		}
	}
}

func TestLookupRange(t *testing.T) {
	_, tr := newTestTree(t, smallFanoutConfig())
	const n = 100
	for i := 0; i < n; i++ {
		tr.Insert(key(i), val(i))
	}

	keys, values, got, err := tr.LookupRange(key(10), key(19), 0)
	if err != nil {
		t.Fatalf("LookupRange: %v", err)
	}
	if got != 10 {
		t.Fatalf("LookupRange count = %d, want 10", got)
	}
	for i, k := range keys {
		if !bytes.Equal(k, key(10+i)) || !bytes.Equal(values[i], val(10+i)) {
			t.Fatalf("entry %d: got (%q,%q)", i, k, values[i])
		}
	}

	_, _, limited, err := tr.LookupRange(key(0), key(99), 5)
	if err != nil || limited != 5 {
		t.Fatalf("LookupRange with max_n=5: got %d, err %v", limited, err)
	}
}

func TestInsertRangeValidation(t *testing.T) {
	_, tr := newTestTree(t, DefaultConfig())

	_, err := tr.InsertRange([][]byte{key(2), key(1)}, [][]byte{val(2), val(1)})
	if err != ErrNotSorted {
		t.Fatalf("expected ErrNotSorted, got %v", err)
	}

	big := make([][]byte, 1000)
	for i := range big {
		big[i] = key(i)
	}
	_, err = tr.InsertRange(big, big)
	if err != ErrBatchTooLarge {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestInsertRangeAppliesSortedBatch(t *testing.T) {
	_, tr := newTestTree(t, DefaultConfig())
	keys := make([][]byte, 10)
	values := make([][]byte, 10)
	for i := range keys {
		keys[i] = key(i)
		values[i] = val(i)
	}
	nReplaced, err := tr.InsertRange(keys, values)
	if err != nil || nReplaced != 0 {
		t.Fatalf("InsertRange: nReplaced=%d err=%v", nReplaced, err)
	}
	nReplaced, err = tr.InsertRange(keys, values)
	if err != nil || nReplaced != 10 {
		t.Fatalf("re-InsertRange: nReplaced=%d err=%v", nReplaced, err)
	}
}

func TestRemoveRange(t *testing.T) {
	_, tr := newTestTree(t, smallFanoutConfig())
	const n = 100
	for i := 0; i < n; i++ {
		tr.Insert(key(i), val(i))
	}

	nRemoved, err := tr.RemoveRange(key(10), key(19))
	if err != nil || nRemoved != 10 {
		t.Fatalf("RemoveRange: nRemoved=%d err=%v", nRemoved, err)
	}
	for i := 10; i <= 19; i++ {
		if _, ok, _ := tr.Lookup(key(i)); ok {
			t.Fatalf("key %d should have been removed", i)
		}
	}

	// Idempotent: removing the same range again removes nothing.
	nRemoved, err = tr.RemoveRange(key(10), key(19))
	if err != nil || nRemoved != 0 {
		t.Fatalf("repeat RemoveRange: nRemoved=%d err=%v", nRemoved, err)
	}
	if ok, err := Validate(tr); err != nil || !ok {
		t.Fatalf("Validate after RemoveRange: ok=%v err=%v", ok, err)
	}
}

// TestCloneIsolation is scenario S4: after cloning, a mutation on one side
// is invisible to the other, and every touched page's refcount reflects the
// fork while untouched pages remain shared.
func TestCloneIsolation(t *testing.T) {
	store := pagestore.New()
	reg := NewRegistry(store)
	a, err := reg.Create(smallFanoutConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 1; i <= 6; i++ {
		a.Insert(key(i), val(i))
	}

	b, err := reg.Clone(a)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	a.Insert(key(7), val(7))

	_, _, n, _ := a.LookupRange(key(0), key(100), 0)
	if n != 7 {
		t.Fatalf("A has %d keys, want 7", n)
	}
	_, _, n, _ = b.LookupRange(key(0), key(100), 0)
	if n != 6 {
		t.Fatalf("B has %d keys, want 6 (clone must not observe A's insert)", n)
	}
	if _, ok, _ := b.Lookup(key(7)); ok {
		t.Fatal("B observed A's post-clone insert")
	}
}

// TestDeleteClone is scenario S5: deleting one clone leaves the other fully
// intact, and no page the surviving clone still needs is freed.
func TestDeleteClone(t *testing.T) {
	store := pagestore.New()
	reg := NewRegistry(store)
	a, _ := reg.Create(smallFanoutConfig())
	for i := 1; i <= 6; i++ {
		a.Insert(key(i), val(i))
	}
	b, _ := reg.Clone(a)

	if err := reg.Destroy(b); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	for i := 1; i <= 6; i++ {
		v, ok, err := a.Lookup(key(i))
		if err != nil || !ok || !bytes.Equal(v, val(i)) {
			t.Fatalf("A lost key %d after B was destroyed: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, err := Validate(a); err != nil || !ok {
		t.Fatalf("Validate(a): ok=%v err=%v", ok, err)
	}

	if _, _, err := b.Lookup(key(1)); err != ErrClosed {
		t.Fatalf("expected ErrClosed on a destroyed tree, got %v", err)
	}
}

func TestValidateClonesAgreesWithRefcounts(t *testing.T) {
	store := pagestore.New()
	reg := NewRegistry(store)
	a, _ := reg.Create(smallFanoutConfig())
	for i := 0; i < 50; i++ {
		a.Insert(key(i), val(i))
	}
	b, _ := reg.Clone(a)
	for i := 50; i < 80; i++ {
		a.Insert(key(i), val(i))
	}
	for i := 0; i < 10; i++ {
		b.Remove(key(i))
	}

	ok, err := ValidateClones([]*Tree{a, b})
	if err != nil || !ok {
		t.Fatalf("ValidateClones: ok=%v err=%v", ok, err)
	}
}

func TestNoLeaksAfterDestroyAll(t *testing.T) {
	store := pagestore.New()
	reg := NewRegistry(store)
	a, _ := reg.Create(smallFanoutConfig())
	for i := 0; i < 200; i++ {
		a.Insert(key(i), val(i))
	}
	b, _ := reg.Clone(a)
	for i := 0; i < 100; i++ {
		b.Remove(key(i))
	}

	if err := reg.Destroy(a); err != nil {
		t.Fatalf("Destroy(a): %v", err)
	}
	if err := reg.Destroy(b); err != nil {
		t.Fatalf("Destroy(b): %v", err)
	}
	if n := len(store.LiveAddrs()); n != 0 {
		t.Fatalf("store leaked %d pages after both clones were destroyed", n)
	}
	if n := store.RefcountMap().Len(); n != 0 {
		t.Fatalf("refcount map has %d live entries after both clones were destroyed", n)
	}
}

// TestRandomizedAgainstOracle drives a small-fanout tree and a sortedOracle
// with the same randomized sequence of inserts and removes, checking
// agreement after every step. This is the "ordering" and "round trip"
// testable-property pair, exercised under enough churn to hit splits,
// merges, and rotations repeatedly.
func TestRandomizedAgainstOracle(t *testing.T) {
	_, tr := newTestTree(t, smallFanoutConfig())
	oracle := &sortedOracle{}
	rng := rand.New(rand.NewSource(42))

	const universe = 500
	for step := 0; step < 5000; step++ {
		k := key(rng.Intn(universe))
		if rng.Intn(3) == 0 && oracle.count() > 0 {
			wantRemoved := oracleContains(oracle, k)
			removed, err := tr.Remove(k)
			if err != nil {
				t.Fatalf("step %d: Remove: %v", step, err)
			}
			oracleRemoved := oracle.remove(k)
			if removed != oracleRemoved || removed != wantRemoved {
				t.Fatalf("step %d: Remove(%q) = %v, oracle = %v", step, k, removed, oracleRemoved)
			}
		} else {
			v := append([]byte("v-"), k...)
			replaced, err := tr.Insert(k, v)
			if err != nil {
				t.Fatalf("step %d: Insert: %v", step, err)
			}
			oracleReplaced := oracle.insert(k, v)
			if replaced != oracleReplaced {
				t.Fatalf("step %d: Insert(%q) replaced=%v, oracle=%v", step, k, replaced, oracleReplaced)
			}
		}
	}

	for i := 0; i < universe; i++ {
		k := key(i)
		gotV, gotOK, err := tr.Lookup(k)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", k, err)
		}
		wantV, wantOK := oracle.lookup(k)
		if gotOK != wantOK || (gotOK && !bytes.Equal(gotV, wantV)) {
			t.Fatalf("key %q: tree=(%q,%v) oracle=(%q,%v)", k, gotV, gotOK, wantV, wantOK)
		}
	}

	if ok, err := Validate(tr); err != nil || !ok {
		t.Fatalf("Validate after randomized churn: ok=%v err=%v", ok, err)
	}
}

func oracleContains(o *sortedOracle, key []byte) bool {
	_, ok := o.lookup(key)
	return ok
}
