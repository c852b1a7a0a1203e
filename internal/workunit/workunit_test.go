package workunit

import "testing"

type fakeRef struct {
	released *bool
}

func (f fakeRef) Release() { *f.released = true }

func TestAcquireReleaseLIFO(t *testing.T) {
	u := New()
	var r1, r2 bool
	a := fakeRef{&r1}
	b := fakeRef{&r2}

	u.Acquire(a)
	u.Acquire(b)
	if u.Held() != 2 {
		t.Fatalf("Held() = %d, want 2", u.Held())
	}

	u.Release(b)
	if !r2 {
		t.Fatal("b.Release() was not called")
	}
	u.Release(a)
	if !r1 {
		t.Fatal("a.Release() was not called")
	}
	u.AssertEmpty()
}

func TestReleaseOutOfOrder(t *testing.T) {
	u := New()
	var r1, r2, r3 bool
	a, b, c := fakeRef{&r1}, fakeRef{&r2}, fakeRef{&r3}
	u.Acquire(a)
	u.Acquire(b)
	u.Acquire(c)

	u.Release(b) // not LIFO: exercises the linear fallback
	if !r2 {
		t.Fatal("b.Release() was not called")
	}
	u.Release(c)
	u.Release(a)
	u.AssertEmpty()
}

func TestReleaseAllOnEarlyExit(t *testing.T) {
	u := New()
	var r1, r2 bool
	u.Acquire(fakeRef{&r1})
	u.Acquire(fakeRef{&r2})

	u.ReleaseAll()
	if !r1 || !r2 {
		t.Fatal("ReleaseAll did not release every held reference")
	}
	u.AssertEmpty()
}

func TestReleaseUnacquiredPanics(t *testing.T) {
	u := New()
	var r bool
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic releasing an unacquired reference")
		}
	}()
	u.Release(fakeRef{&r})
}

func TestAssertEmptyPanicsWhenHeld(t *testing.T) {
	u := New()
	var r bool
	u.Acquire(fakeRef{&r})
	defer func() {
		if recover() == nil {
			t.Fatal("expected AssertEmpty to panic with a reference still held")
		}
	}()
	u.AssertEmpty()
}

func TestAcquireBeyondCapacityPanics(t *testing.T) {
	u := New()
	var released [MaxRefs]bool
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic exceeding MaxRefs")
		}
	}()
	for i := 0; i <= MaxRefs; i++ {
		u.Acquire(fakeRef{&released[i%MaxRefs]})
	}
}
