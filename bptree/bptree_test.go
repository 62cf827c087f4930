package bptree

import (
	"path/filepath"
	"testing"

	"github.com/brianvoe/gofakeit/v6"

	"storagecore/bnode"
	"storagecore/bufferpool"
	"storagecore/diskio"
	"storagecore/headerpage"
)

func openTree(t *testing.T, leafMaxSize, internalMaxSize int) *Tree {
	t.Helper()
	disk, err := diskio.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open disk manager: %v", err)
	}
	t.Cleanup(func() { disk.Close() })

	pool := bufferpool.New(64, disk, 2, nil)
	reg, err := headerpage.New(pool)
	if err != nil {
		t.Fatalf("headerpage.New: %v", err)
	}
	if err := reg.Init(); err != nil {
		t.Fatalf("registry Init: %v", err)
	}

	tree, err := New("primary", pool, reg, nil, leafMaxSize, internalMaxSize)
	if err != nil {
		t.Fatalf("bptree.New: %v", err)
	}
	return tree
}

func rid(k uint64) bnode.RID { return bnode.RID{PageID: int64(k), Slot: uint32(k)} }

func TestInsertAndGetValueSingleKey(t *testing.T) {
	tree := openTree(t, 4, 5)
	inserted, err := tree.Insert(42, rid(42))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !inserted {
		t.Fatalf("expected new key to report inserted=true")
	}

	got, ok, err := tree.GetValue(42)
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if !ok || got != rid(42) {
		t.Fatalf("GetValue(42) = (%v, %v), want (%v, true)", got, ok, rid(42))
	}

	if tree.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", tree.Size())
	}
}

func TestInsertDuplicateKeyIsRejected(t *testing.T) {
	tree := openTree(t, 4, 5)
	if _, err := tree.Insert(1, rid(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	inserted, err := tree.Insert(1, rid(999))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate key to report inserted=false")
	}

	got, ok, err := tree.GetValue(1)
	if err != nil || !ok || got != rid(1) {
		t.Fatalf("GetValue(1) = (%v, %v, %v), want (%v, true, nil)", got, ok, err, rid(1))
	}
	if tree.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 (duplicate rejected, not counted)", tree.Size())
	}
}

func TestGetValueMissingKey(t *testing.T) {
	tree := openTree(t, 4, 5)
	_, ok, err := tree.GetValue(7)
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if ok {
		t.Fatalf("expected missing key to report ok=false")
	}
}

// TestSplitPropagatesAcrossLevels exercises the worked example from the
// specification: leaf max size 4, internal max size 5, inserting keys 1..10
// in order, forcing leaf splits whose separators propagate into a new root
// (five leaves under one root; no internal node splits).
func TestSplitPropagatesAcrossLevels(t *testing.T) {
	tree := openTree(t, 4, 5)
	for k := uint64(1); k <= 10; k++ {
		if _, err := tree.Insert(k, rid(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	if tree.Size() != 10 {
		t.Fatalf("Size() = %d, want 10", tree.Size())
	}
	for k := uint64(1); k <= 10; k++ {
		got, ok, err := tree.GetValue(k)
		if err != nil || !ok || got != rid(k) {
			t.Fatalf("GetValue(%d) = (%v, %v, %v), want (%v, true, nil)", k, got, ok, err, rid(k))
		}
	}
}

func TestInsertDescendingOrderStillFindsAllKeys(t *testing.T) {
	tree := openTree(t, 4, 5)
	for k := uint64(20); k >= 1; k-- {
		if _, err := tree.Insert(k, rid(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	for k := uint64(1); k <= 20; k++ {
		_, ok, err := tree.GetValue(k)
		if err != nil || !ok {
			t.Fatalf("GetValue(%d) = (_, %v, %v), want ok", k, ok, err)
		}
	}
}

func TestRemoveThenGetValueMissing(t *testing.T) {
	tree := openTree(t, 4, 5)
	for k := uint64(1); k <= 10; k++ {
		if _, err := tree.Insert(k, rid(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	if err := tree.Remove(5); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, err := tree.GetValue(5); err != nil || ok {
		t.Fatalf("expected key 5 gone after Remove, got ok=%v err=%v", ok, err)
	}
	if tree.Size() != 9 {
		t.Fatalf("Size() = %d, want 9", tree.Size())
	}

	for _, k := range []uint64{1, 2, 3, 4, 6, 7, 8, 9, 10} {
		if _, ok, err := tree.GetValue(k); err != nil || !ok {
			t.Fatalf("GetValue(%d) = (_, %v, %v), want ok", k, ok, err)
		}
	}
}

// TestRemoveAllKeysDrainsTreeToEmpty always deletes the current minimum, so
// the underflowing node is a parent's first child and the right-sibling
// borrow/merge branch runs, followed by the AdjustRoot collapse: deleting
// every key down to zero must leave the tree reporting empty again.
func TestRemoveAllKeysDrainsTreeToEmpty(t *testing.T) {
	tree := openTree(t, 4, 5)
	const n = 50
	for k := uint64(1); k <= n; k++ {
		if _, err := tree.Insert(k, rid(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	for k := uint64(1); k <= n; k++ {
		if err := tree.Remove(k); err != nil {
			t.Fatalf("Remove(%d): %v", k, err)
		}
	}
	if !tree.IsEmpty() {
		t.Fatalf("expected tree to be empty after removing every key")
	}
	if tree.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", tree.Size())
	}
}

// TestRemoveInReverseOrderDrainsTreeToEmpty exercises the borrow/merge
// pipeline from the opposite direction (always deleting the current
// maximum), which tends to hit the left-sibling-borrow branch rather than
// the right.
func TestRemoveInReverseOrderDrainsTreeToEmpty(t *testing.T) {
	tree := openTree(t, 4, 5)
	const n = 50
	for k := uint64(1); k <= n; k++ {
		if _, err := tree.Insert(k, rid(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	for k := uint64(n); k >= 1; k-- {
		if err := tree.Remove(k); err != nil {
			t.Fatalf("Remove(%d): %v", k, err)
		}
	}
	if !tree.IsEmpty() {
		t.Fatalf("expected tree to be empty after removing every key")
	}
}

func TestRemoveMissingKeyIsNoop(t *testing.T) {
	tree := openTree(t, 4, 5)
	if _, err := tree.Insert(1, rid(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tree.Remove(999); err != nil {
		t.Fatalf("Remove of missing key returned error: %v", err)
	}
	if tree.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 unchanged", tree.Size())
	}
}

func TestRemoveOnEmptyTreeIsNoop(t *testing.T) {
	tree := openTree(t, 4, 5)
	if err := tree.Remove(1); err != nil {
		t.Fatalf("Remove on empty tree returned error: %v", err)
	}
}

func TestIteratorWalksInAscendingOrder(t *testing.T) {
	tree := openTree(t, 4, 5)
	keys := []uint64{5, 3, 8, 1, 9, 2, 7, 4, 6, 10}
	for _, k := range keys {
		if _, err := tree.Insert(k, rid(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	it, err := tree.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer it.Close()

	var seen []uint64
	for it.Valid() {
		seen = append(seen, it.Key())
		if it.Value() != rid(it.Key()) {
			t.Fatalf("Value() at key %d = %v, want %v", it.Key(), it.Value(), rid(it.Key()))
		}
		if !it.Next() {
			break
		}
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}

	if len(seen) != len(keys) {
		t.Fatalf("iterator visited %d keys, want %d", len(seen), len(keys))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i-1] >= seen[i] {
			t.Fatalf("iterator not in ascending order: %v", seen)
		}
	}
}

func TestBeginAtSeeksFirstKeyGreaterOrEqual(t *testing.T) {
	tree := openTree(t, 4, 5)
	for _, k := range []uint64{10, 20, 30, 40, 50} {
		if _, err := tree.Insert(k, rid(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	it, err := tree.BeginAt(25)
	if err != nil {
		t.Fatalf("BeginAt: %v", err)
	}
	defer it.Close()

	if !it.Valid() {
		t.Fatalf("expected a valid position at or after 25")
	}
	if it.Key() != 30 {
		t.Fatalf("BeginAt(25) landed on key %d, want 30", it.Key())
	}
}

func TestBeginAtPastEndIsExhausted(t *testing.T) {
	tree := openTree(t, 4, 5)
	if _, err := tree.Insert(1, rid(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	it, err := tree.BeginAt(1000)
	if err != nil {
		t.Fatalf("BeginAt: %v", err)
	}
	defer it.Close()
	if it.Valid() {
		t.Fatalf("expected no entries past the last key")
	}
}

func TestBeginOnEmptyTreeIsExhausted(t *testing.T) {
	tree := openTree(t, 4, 5)
	it, err := tree.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer it.Close()
	if it.Valid() {
		t.Fatalf("expected empty tree to yield an exhausted iterator")
	}
}

// TestConcurrentInsertAndGetValue exercises the tree's core testable
// correctness property: concurrent writers on disjoint key ranges never
// corrupt state or deadlock under latch crabbing; every key is read back
// once all writers have finished.
func TestConcurrentInsertAndGetValue(t *testing.T) {
	tree := openTree(t, 4, 5)
	const perWorker = 100
	const workers = 8

	done := make(chan error, workers)
	for w := 0; w < workers; w++ {
		w := w
		go func() {
			for i := 0; i < perWorker; i++ {
				k := uint64(w*perWorker + i)
				if _, err := tree.Insert(k, rid(k)); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}
	for i := 0; i < workers; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Insert failed: %v", err)
		}
	}

	if tree.Size() != workers*perWorker {
		t.Fatalf("Size() = %d, want %d", tree.Size(), workers*perWorker)
	}
	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			k := uint64(w*perWorker + i)
			if _, ok, err := tree.GetValue(k); err != nil || !ok {
				t.Fatalf("GetValue(%d) = (_, %v, %v), want ok", k, ok, err)
			}
		}
	}
}

// TestRandomizedInsertRemoveRoundTrip drives the tree with a gofakeit-shuffled
// key permutation and randomized RID payloads rather than a hand-rolled
// pseudo-random sequence, then deletes a random subset and checks survivors.
func TestRandomizedInsertRemoveRoundTrip(t *testing.T) {
	tree := openTree(t, 4, 5)
	faker := gofakeit.New(0)

	const n = 200
	keys := make([]uint64, n)
	rids := make(map[uint64]bnode.RID, n)
	for i := range keys {
		keys[i] = uint64(i)
	}
	faker.ShuffleAnySlice(keys)

	for _, k := range keys {
		r := bnode.RID{
			PageID: int64(faker.Uint32()),
			Slot:   faker.Uint32(),
		}
		rids[k] = r
		if _, err := tree.Insert(k, r); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	if tree.Size() != n {
		t.Fatalf("Size() = %d, want %d", tree.Size(), n)
	}

	removed := make(map[uint64]bool)
	toRemove := append([]uint64(nil), keys...)
	faker.ShuffleAnySlice(toRemove)
	toRemove = toRemove[:n/2]
	for _, k := range toRemove {
		if err := tree.Remove(k); err != nil {
			t.Fatalf("Remove(%d): %v", k, err)
		}
		removed[k] = true
	}
	if tree.Size() != int64(n-len(toRemove)) {
		t.Fatalf("Size() = %d, want %d", tree.Size(), n-len(toRemove))
	}

	for _, k := range keys {
		got, ok, err := tree.GetValue(k)
		if err != nil {
			t.Fatalf("GetValue(%d): %v", k, err)
		}
		if removed[k] {
			if ok {
				t.Fatalf("key %d should have been removed, still present", k)
			}
			continue
		}
		if !ok || got != rids[k] {
			t.Fatalf("GetValue(%d) = (%v, %v), want (%v, true)", k, got, ok, rids[k])
		}
	}
}
