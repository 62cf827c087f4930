// Package pagetable provides the concurrent page_id -> frame_id mapping used
// by the buffer pool. Spec §4.B notes a correct concurrent map is all that's
// required here — an extendible hash table (as in
// FeatureBaseDB-featurebase/extendiblehash) is sufficient but not required,
// and the teacher (DaemonDB) itself gets by with a plain Go map guarded by
// the buffer pool's own mutex. This type exists mainly to give the mapping a
// name and a narrow surface (Insert/Remove/Find) independent of whether a
// caller happens to already hold the buffer pool's coarse latch.
package pagetable

import "sync"

// Table maps resident page ids to their frame id.
type Table struct {
	mu     sync.Mutex
	byPage map[int64]int
}

// New returns an empty page table.
func New() *Table {
	return &Table{byPage: make(map[int64]int)}
}

// Insert records that pageID resides in frameID.
func (t *Table) Insert(pageID int64, frameID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPage[pageID] = frameID
}

// Remove drops pageID's mapping, if any.
func (t *Table) Remove(pageID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPage, pageID)
}

// Find returns pageID's frame id and whether it was found.
func (t *Table) Find(pageID int64) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	frameID, ok := t.byPage[pageID]
	return frameID, ok
}
