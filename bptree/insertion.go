package bptree

import (
	"fmt"

	"storagecore/bnode"
	"storagecore/page"
)

// Insert adds key/rid to the tree. A duplicate key is rejected outright —
// the existing value is left untouched and Insert reports false; a
// brand-new key is inserted and Insert reports true.
func (t *Tree) Insert(key uint64, rid bnode.RID) (bool, error) {
	t.mu.Lock()
	if t.rootPageID == page.InvalidPageID {
		ok, err := t.createRootWithFirstKey(key, rid)
		t.mu.Unlock()
		return ok, err
	}
	root := t.rootPageID

	s := &pageSet{}
	s.push(&latchedPage{isRootLatch: true})
	if err := t.descendWriteCrabbing(s, root, key, modeInsert); err != nil {
		return false, err
	}

	leafLP := s.top()
	leaf := leafLP.node
	idx, exists := leaf.Lookup(key, t.cmp)
	if exists {
		t.releaseAll(s)
		return false, nil
	}

	leaf.InsertLeafAt(idx, key, rid)
	leafLP.dirty = true
	t.size.Add(1)

	if !leaf.IsFull() {
		t.releaseAll(s)
		return true, nil
	}

	rightPg, rightNode, err := t.newNode(true)
	if err != nil {
		t.releaseAll(s)
		return false, err
	}
	promoted := leaf.MoveHalfTo(rightNode)
	if err := t.writeNode(rightPg, rightNode); err != nil {
		t.pool.UnpinPage(rightPg.ID, false)
		t.releaseAll(s)
		return false, err
	}
	t.pool.UnpinPage(rightPg.ID, true)

	if err := t.propagateSplit(s, leaf.PageID, promoted, rightNode.PageID); err != nil {
		t.releaseAll(s)
		return false, err
	}
	t.releaseAll(s)
	return true, nil
}

// createRootWithFirstKey allocates a fresh one-entry leaf and registers it
// as the tree's root. Caller must hold t.mu and have confirmed the tree is
// currently empty.
func (t *Tree) createRootWithFirstKey(key uint64, rid bnode.RID) (bool, error) {
	pg, n, err := t.newNode(true)
	if err != nil {
		return false, err
	}
	n.InsertLeafAt(0, key, rid)
	if err := t.writeNode(pg, n); err != nil {
		t.pool.UnpinPage(pg.ID, false)
		return false, err
	}
	t.pool.UnpinPage(pg.ID, true)

	if err := t.setRootLocked(n.PageID); err != nil {
		return false, err
	}
	t.size.Add(1)
	return true, nil
}

// propagateSplit finishes an overflowing leaf or internal node's split by
// inserting its promoted separator into its parent, recursively splitting
// that parent too if it overflows, up to and including creating a brand
// new root. s holds the remaining write-latched ancestors from the
// original descent, innermost last. Grounded on
// .../bplustree/parent_insert.go and split_internal.go.
func (t *Tree) propagateSplit(s *pageSet, leftID int64, promotedKey uint64, rightID int64) error {
	for {
		child := s.pages[len(s.pages)-1]
		s.pages = s.pages[:len(s.pages)-1]
		t.unlatchAndUnpin(child)

		parentEntry := s.top()
		if parentEntry == nil {
			return fmt.Errorf("bptree: propagateSplit ran out of ancestors without finding the root")
		}
		if parentEntry.isRootLatch {
			return t.createNewRootAndRelease(s, leftID, promotedKey, rightID)
		}

		parent := parentEntry.node
		parent.InsertNodeAfter(leftID, promotedKey, rightID)
		parentEntry.dirty = true
		if err := t.reparentChild(rightID, parent.PageID); err != nil {
			return err
		}

		if !parent.IsFull() {
			return nil
		}

		rightPg, rightNode, err := t.newNode(false)
		if err != nil {
			return err
		}
		promoted := parent.MoveHalfTo(rightNode)
		for _, grandchildID := range rightNode.Children {
			if err := t.reparentChild(grandchildID, rightNode.PageID); err != nil {
				t.pool.UnpinPage(rightPg.ID, false)
				return err
			}
		}
		if err := t.writeNode(rightPg, rightNode); err != nil {
			t.pool.UnpinPage(rightPg.ID, false)
			return err
		}
		t.pool.UnpinPage(rightPg.ID, true)

		leftID = parent.PageID
		promotedKey = promoted
		rightID = rightNode.PageID
	}
}

// createNewRootAndRelease allocates a new two-child root over leftID and
// rightID, installs it, and releases the root-pointer latch that has been
// held throughout the split (it is always the last entry remaining in s at
// this point).
func (t *Tree) createNewRootAndRelease(s *pageSet, leftID int64, promotedKey uint64, rightID int64) error {
	pg, n, err := t.newNode(false)
	if err != nil {
		return err
	}
	n.PopulateNewRoot(leftID, promotedKey, rightID)
	if err := t.writeNode(pg, n); err != nil {
		t.pool.UnpinPage(pg.ID, false)
		return err
	}
	t.pool.UnpinPage(pg.ID, true)

	if err := t.reparentChild(leftID, n.PageID); err != nil {
		return err
	}
	if err := t.reparentChild(rightID, n.PageID); err != nil {
		return err
	}

	if err := t.setRootLocked(n.PageID); err != nil {
		return err
	}

	rootLatch := s.pages[len(s.pages)-1]
	s.pages = s.pages[:len(s.pages)-1]
	t.unlatchAndUnpin(rootLatch)
	return nil
}
