package bptree

import (
	"storagecore/bnode"
	"storagecore/page"
)

// opMode selects which latch discipline a descent uses.
type opMode int

const (
	modeRead opMode = iota
	modeInsert
	modeDelete
)

// latchedPage is one write-latched, pinned page held during an insert or
// delete descent. The very first entry pushed for such a descent is a
// virtual entry (isRootLatch) standing in for the tree's root-pointer
// mutex, so the "release once safe" rule below applies uniformly to it —
// exactly the way original_source treats the root_page_id_ latch as the
// first member of a transaction's page set.
type latchedPage struct {
	pg          *page.Page
	node        *bnode.Node
	dirty       bool
	isRootLatch bool
}

// pageSet is the stack of ancestors still write-latched during a
// structural modification, mirroring original_source's
// Transaction::GetPageSet() — popped from the front (root end) as soon as
// the node just latched is provably safe.
type pageSet struct {
	pages []*latchedPage
}

func (s *pageSet) push(lp *latchedPage) { s.pages = append(s.pages, lp) }

func (s *pageSet) top() *latchedPage {
	if len(s.pages) == 0 {
		return nil
	}
	return s.pages[len(s.pages)-1]
}

// releaseSafeAncestors drops every page in the set except the most recently
// pushed one, flushing any that were marked dirty.
func (t *Tree) releaseSafeAncestors(s *pageSet) {
	for len(s.pages) > 1 {
		lp := s.pages[0]
		s.pages = s.pages[1:]
		t.unlatchAndUnpin(lp)
	}
}

// releaseAll drops every remaining page in the set.
func (t *Tree) releaseAll(s *pageSet) {
	for _, lp := range s.pages {
		t.unlatchAndUnpin(lp)
	}
	s.pages = nil
}

func (t *Tree) unlatchAndUnpin(lp *latchedPage) {
	if lp.isRootLatch {
		t.mu.Unlock()
		return
	}
	if lp.dirty {
		_ = t.writeNode(lp.pg, lp.node)
	}
	lp.pg.Unlock()
	t.pool.UnpinPage(lp.pg.ID, lp.dirty)
}

// findLeafReadCrabbing descends from root to the leaf owning key, holding
// only a read latch on the current page at any moment: the child is
// latched and fetched before the parent is released, then the parent is
// dropped. Returns the latched, pinned leaf page and its decoded node; the
// caller must RUnlock and UnpinPage it.
func (t *Tree) findLeafReadCrabbing(root int64, key uint64) (*page.Page, *bnode.Node, error) {
	pageID := root
	var parent *page.Page

	for {
		pg, n, err := t.fetchNode(pageID)
		if err != nil {
			if parent != nil {
				parent.RUnlock()
				t.pool.UnpinPage(parent.ID, false)
			}
			return nil, nil, err
		}
		pg.RLock()
		if parent != nil {
			parent.RUnlock()
			t.pool.UnpinPage(parent.ID, false)
		}
		// Decode again under the latch (see descendWriteCrabbing).
		if n, err = bnode.Deserialize(pg.Data[:]); err != nil {
			pg.RUnlock()
			t.pool.UnpinPage(pageID, false)
			return nil, nil, err
		}

		if n.IsLeaf {
			return pg, n, nil
		}

		idx, _ := n.Lookup(key, t.cmp)
		if idx >= len(n.Children) {
			idx = len(n.Children) - 1
		}
		pageID = n.Children[idx]
		parent = pg
	}
}

// descendWriteCrabbing descends from root to the leaf owning key, write
// latching every page along the way, pinning and pushing each onto s (which
// must already hold the root-pointer latch entry as its sole member, with
// t.mu locked by the caller), and releasing ancestors as soon as the node
// just reached is safe. mode distinguishes the insert-safety test from the
// delete-safety test.
func (t *Tree) descendWriteCrabbing(s *pageSet, root int64, key uint64, mode opMode) error {
	pageID := root
	isRoot := true

	for {
		pg, n, err := t.fetchNode(pageID)
		if err != nil {
			t.releaseAll(s)
			return err
		}
		pg.Lock()
		// Decode again under the latch: the copy fetchNode decoded may
		// predate a writer that held this page until now.
		if n, err = bnode.Deserialize(pg.Data[:]); err != nil {
			pg.Unlock()
			t.pool.UnpinPage(pageID, false)
			t.releaseAll(s)
			return err
		}
		lp := &latchedPage{pg: pg, node: n}
		s.push(lp)

		safe := false
		switch mode {
		case modeInsert:
			safe = n.IsSafeForInsert()
		case modeDelete:
			safe = n.IsSafeForDelete(isRoot)
		}
		if safe {
			t.releaseSafeAncestors(s)
		}

		if n.IsLeaf {
			return nil
		}

		idx, _ := n.Lookup(key, t.cmp)
		if idx >= len(n.Children) {
			idx = len(n.Children) - 1
		}
		pageID = n.Children[idx]
		isRoot = false
	}
}
