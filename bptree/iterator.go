package bptree

import (
	"storagecore/bnode"
	"storagecore/page"
)

// Iterator walks leaf entries in ascending key order, following the leaf
// chain's NextID links. Grounded on DaemonDB/.../bplustree/iterator.go's
// SeekGE/Next/Key/Value/Close shape, adapted to this package's read-latch
// crabbing instead of that package's single mutex.
type Iterator struct {
	t   *Tree
	pg  *page.Page
	n   *bnode.Node
	idx int
	err error
}

// Begin returns an iterator positioned at the tree's first key, if any.
func (t *Tree) Begin() (*Iterator, error) {
	return t.BeginAt(0)
}

// BeginAt returns an iterator positioned at the first key >= target. If no
// such key exists the iterator is immediately exhausted (Key/Value panic,
// Next returns false).
func (t *Tree) BeginAt(target uint64) (*Iterator, error) {
	t.mu.RLock()
	root := t.rootPageID
	t.mu.RUnlock()

	if root == page.InvalidPageID {
		return &Iterator{t: t}, nil
	}

	pg, n, err := t.findLeafReadCrabbing(root, target)
	if err != nil {
		return nil, err
	}

	idx, ok := n.Lookup(target, t.cmp)
	if !ok && idx >= len(n.Keys) {
		// target falls after every key in this leaf: walk forward to the
		// next non-empty leaf, releasing this one as we go.
		for idx >= len(n.Keys) && n.NextID != page.InvalidPageID {
			nextID := n.NextID
			pg.RUnlock()
			t.pool.UnpinPage(pg.ID, false)

			pg, n, err = t.fetchNode(nextID)
			if err != nil {
				return nil, err
			}
			pg.RLock()
			idx = 0
		}
	}

	return &Iterator{t: t, pg: pg, n: n, idx: idx}, nil
}

// End returns the sentinel, already-exhausted iterator: Valid() is always
// false and Next() always returns false. Each call returns a new value and
// Iterator has no comparison method, so a walk detects its end through
// Valid() or Next().
func (t *Tree) End() *Iterator {
	return &Iterator{t: t}
}

// Valid reports whether the iterator is positioned at a live entry.
func (it *Iterator) Valid() bool {
	return it.err == nil && it.n != nil && it.idx < len(it.n.Keys)
}

// Err returns any error encountered while advancing.
func (it *Iterator) Err() error { return it.err }

// Key returns the key at the iterator's current position. Valid must be true.
func (it *Iterator) Key() uint64 { return it.n.Keys[it.idx] }

// Value returns the RID at the iterator's current position. Valid must be true.
func (it *Iterator) Value() bnode.RID { return it.n.Values[it.idx] }

// Next advances the iterator, crossing into the next leaf via its NextID
// link when the current leaf is exhausted. Returns false once there are no
// more entries (or on error — check Err).
func (it *Iterator) Next() bool {
	if it.n == nil || it.err != nil {
		return false
	}
	it.idx++
	for it.idx >= len(it.n.Keys) {
		nextID := it.n.NextID
		it.pg.RUnlock()
		it.t.pool.UnpinPage(it.pg.ID, false)
		it.pg, it.n = nil, nil

		if nextID == page.InvalidPageID {
			return false
		}
		pg, n, err := it.t.fetchNode(nextID)
		if err != nil {
			it.err = err
			return false
		}
		pg.RLock()
		it.pg, it.n, it.idx = pg, n, 0
	}
	return true
}

// Close releases any page still latched by the iterator. Safe to call more
// than once, and safe to skip if the iterator ran to exhaustion via Next.
func (it *Iterator) Close() {
	if it.pg != nil {
		it.pg.RUnlock()
		it.t.pool.UnpinPage(it.pg.ID, false)
		it.pg, it.n = nil, nil
	}
}
