package replacer

import "testing"

func TestRecordAccessStartsNonEvictable(t *testing.T) {
	r := New(7, 2)
	r.RecordAccess(1)
	if r.Size() != 0 {
		t.Fatalf("expected 0 evictable frames, got %d", r.Size())
	}
	if _, ok := r.Evict(); ok {
		t.Fatalf("expected no victim before any frame is evictable")
	}
}

func TestSetEvictableIsNoopOnUntrackedFrame(t *testing.T) {
	r := New(7, 2)
	r.SetEvictable(5, true)
	if r.Size() != 0 {
		t.Fatalf("expected untracked frame to not affect size, got %d", r.Size())
	}
}

func TestSetEvictableIdempotent(t *testing.T) {
	r := New(7, 2)
	r.RecordAccess(1)
	r.SetEvictable(1, true)
	r.SetEvictable(1, true)
	if r.Size() != 1 {
		t.Fatalf("expected size 1 after idempotent SetEvictable, got %d", r.Size())
	}
}

func TestEvictEmptyReplacer(t *testing.T) {
	r := New(7, 2)
	if _, ok := r.Evict(); ok {
		t.Fatalf("expected Evict to fail on empty replacer")
	}
}

// TestConcreteScenario mirrors spec.md's worked example: k=2, capacity 7,
// access 1..6, mark all evictable, re-access 1..6,1, then evict repeatedly.
func TestConcreteScenario(t *testing.T) {
	r := New(7, 2)

	for _, f := range []int{1, 2, 3, 4, 5, 6} {
		r.RecordAccess(f)
	}
	for _, f := range []int{1, 2, 3, 4, 5, 6} {
		r.SetEvictable(f, true)
	}
	for _, f := range []int{1, 2, 3, 4, 5, 6, 1} {
		r.RecordAccess(f)
	}

	want := []int{2, 3, 4, 5}
	for _, w := range want {
		got, ok := r.Evict()
		if !ok {
			t.Fatalf("expected a victim, got none")
		}
		if got != w {
			t.Fatalf("expected victim %d, got %d", w, got)
		}
	}
}

func TestRemoveRequiresEvictable(t *testing.T) {
	r := New(7, 2)
	r.RecordAccess(1)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic removing a non-evictable frame")
		}
	}()
	r.Remove(1)
}

func TestRemoveUntrackedIsNoop(t *testing.T) {
	r := New(7, 2)
	r.Remove(99) // should not panic
}

func TestBackwardKDistancePrefersInfiniteThenOldest(t *testing.T) {
	r := New(3, 3)

	// frame 0 gets 3 accesses (finite distance); frames 1 and 2 get 1 each
	// (infinite distance, since k=3).
	r.RecordAccess(0)
	r.RecordAccess(1)
	r.RecordAccess(0)
	r.RecordAccess(2)
	r.RecordAccess(0)

	r.SetEvictable(0, true)
	r.SetEvictable(1, true)
	r.SetEvictable(2, true)

	// Frame 1 was accessed before frame 2, so among the infinite-distance
	// set, frame 1 is the older and should be evicted first.
	got, ok := r.Evict()
	if !ok || got != 1 {
		t.Fatalf("expected victim 1, got %d (ok=%v)", got, ok)
	}
	got, ok = r.Evict()
	if !ok || got != 2 {
		t.Fatalf("expected victim 2, got %d (ok=%v)", got, ok)
	}
	got, ok = r.Evict()
	if !ok || got != 0 {
		t.Fatalf("expected victim 0, got %d (ok=%v)", got, ok)
	}
}

func TestSizeTracksEvictableCount(t *testing.T) {
	r := New(7, 2)
	r.RecordAccess(1)
	r.RecordAccess(2)
	r.SetEvictable(1, true)
	if r.Size() != 1 {
		t.Fatalf("expected size 1, got %d", r.Size())
	}
	r.SetEvictable(2, true)
	if r.Size() != 2 {
		t.Fatalf("expected size 2, got %d", r.Size())
	}
	r.SetEvictable(1, false)
	if r.Size() != 1 {
		t.Fatalf("expected size 1 after unmarking, got %d", r.Size())
	}
}
