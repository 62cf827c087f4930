// Package bptree is a concurrent, disk-backed B+ tree index with latch
// crabbing. Structural control flow (split, InsertIntoParent,
// CoalesceOrRedistribute, AdjustRoot) is grounded on
// DaemonDB/storage_engine/access/indexfile_manager/bplustree's
// insertion.go/split_leaf.go/split_internal.go/parent_insert.go/deletion.go,
// generalized from that package's single whole-tree mutex to per-page
// latching (page.Page's RWMutex) with the safe-node release discipline from
// original_source's b_plus_tree.cpp (Transaction page set, released once a
// node is provably safe against propagating a split or a merge upward).
package bptree

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"storagecore/bnode"
	"storagecore/page"
)

// Comparator orders keys. DefaultComparator treats keys as plain uint64s.
type Comparator func(a, b uint64) int

// DefaultComparator orders keys numerically.
func DefaultComparator(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Pool is the subset of bufferpool.Pool the tree depends on.
type Pool interface {
	FetchPage(pageID int64) (*page.Page, error)
	NewPage() (*page.Page, error)
	UnpinPage(pageID int64, dirty bool) bool
	DeletePage(pageID int64) bool
}

// Registry is the subset of headerpage.Registry the tree depends on, for
// persisting its root page id across process restarts.
type Registry interface {
	GetRootID(name string) (int64, bool, error)
	InsertRecord(name string, rootPageID int64) error
	UpdateRecord(name string, rootPageID int64) error
}

// Tree is one named B+ tree index.
type Tree struct {
	name string
	pool Pool
	reg  Registry
	cmp  Comparator

	leafMaxSize     int
	internalMaxSize int

	// mu guards rootPageID itself, not the tree's structure: individual
	// page latches (see crabbing.go) protect concurrent structural
	// modification. Readers hold it only while reading the root id; Insert
	// and Remove hold it as the root-pointer entry of their page set until
	// the descent reaches a safe node or the operation ends.
	mu         sync.RWMutex
	rootPageID int64

	size atomic.Int64 // count of live keys, updated outside mu's scope
}

// New opens (or creates, if unregistered) a named index backed by pool and
// reg, with the given key comparator (DefaultComparator if nil) and node
// capacities.
func New(name string, pool Pool, reg Registry, cmp Comparator, leafMaxSize, internalMaxSize int) (*Tree, error) {
	if cmp == nil {
		cmp = DefaultComparator
	}
	if leafMaxSize < 2 || internalMaxSize < 3 {
		return nil, fmt.Errorf("bptree: leafMaxSize/internalMaxSize too small")
	}

	t := &Tree{
		name:            name,
		pool:            pool,
		reg:             reg,
		cmp:             cmp,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		rootPageID:      page.InvalidPageID,
	}

	rootID, ok, err := reg.GetRootID(name)
	if err != nil {
		return nil, fmt.Errorf("bptree: look up root for %q: %w", name, err)
	}
	if ok {
		t.rootPageID = rootID
	}
	return t, nil
}

// GetIndexName returns the index's registered name.
func (t *Tree) GetIndexName() string { return t.name }

// IsEmpty reports whether the tree currently has no root page.
func (t *Tree) IsEmpty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootPageID == page.InvalidPageID
}

// Size returns the number of keys currently stored.
func (t *Tree) Size() int64 {
	return t.size.Load()
}

func (t *Tree) fetchNode(pageID int64) (*page.Page, *bnode.Node, error) {
	pg, err := t.pool.FetchPage(pageID)
	if err != nil {
		return nil, nil, fmt.Errorf("bptree: fetch page %d: %w", pageID, err)
	}
	if pg == nil {
		return nil, nil, fmt.Errorf("bptree: buffer pool exhausted fetching page %d", pageID)
	}
	n, err := bnode.Deserialize(pg.Data[:])
	if err != nil {
		t.pool.UnpinPage(pageID, false)
		return nil, nil, fmt.Errorf("bptree: decode page %d: %w", pageID, err)
	}
	return pg, n, nil
}

func (t *Tree) writeNode(pg *page.Page, n *bnode.Node) error {
	if err := bnode.Serialize(n, pg.Data[:]); err != nil {
		return fmt.Errorf("bptree: encode page %d: %w", n.PageID, err)
	}
	return nil
}

// reparentChild updates childID's persisted ParentID to newParentID through
// a buffer-pool fetch/write/unpin round trip. Called after every structural
// move that hands a node (or one of an internal node's children) to a new
// parent, per the Move*/PopulateNewRoot contract.
func (t *Tree) reparentChild(childID, newParentID int64) error {
	pg, n, err := t.fetchNode(childID)
	if err != nil {
		return err
	}
	n.ParentID = newParentID
	if err := t.writeNode(pg, n); err != nil {
		t.pool.UnpinPage(childID, false)
		return err
	}
	t.pool.UnpinPage(childID, true)
	return nil
}

func (t *Tree) newNode(leaf bool) (*page.Page, *bnode.Node, error) {
	pg, err := t.pool.NewPage()
	if err != nil {
		return nil, nil, fmt.Errorf("bptree: allocate page: %w", err)
	}
	if pg == nil {
		return nil, nil, fmt.Errorf("bptree: buffer pool exhausted allocating a new page")
	}
	var n *bnode.Node
	if leaf {
		n = bnode.NewLeaf(pg.ID, t.leafMaxSize)
	} else {
		n = bnode.NewInternal(pg.ID, t.internalMaxSize)
	}
	return pg, n, nil
}

// setRootLocked installs rootID as the tree's root, persisting it through
// reg. Caller must already hold t.mu — either directly, or by virtue of
// still holding the descent's root-pointer latch entry (see crabbing.go).
func (t *Tree) setRootLocked(rootID int64) error {
	_, existed, err := t.reg.GetRootID(t.name)
	if err != nil {
		return err
	}
	t.rootPageID = rootID
	if existed {
		return t.reg.UpdateRecord(t.name, rootID)
	}
	return t.reg.InsertRecord(t.name, rootID)
}

// GetValue looks up key, latch-crabbing down read-only (each child is
// latched before its parent is released — see crabbing.go).
func (t *Tree) GetValue(key uint64) (bnode.RID, bool, error) {
	t.mu.RLock()
	root := t.rootPageID
	t.mu.RUnlock()

	if root == page.InvalidPageID {
		return bnode.RID{}, false, nil
	}

	leafPg, leaf, err := t.findLeafReadCrabbing(root, key)
	if err != nil {
		return bnode.RID{}, false, err
	}
	defer t.pool.UnpinPage(leafPg.ID, false)
	leafPg.RUnlock()

	idx, ok := leaf.Lookup(key, t.cmp)
	if !ok {
		return bnode.RID{}, false, nil
	}
	return leaf.Values[idx], true, nil
}

// InsertFromFile bulk-loads key/RID pairs from whitespace-separated uint64
// values in path, where each value k packs a RID as {PageID: k>>32,
// Slot: uint32(k&0xFFFFFFFF)}.
func (t *Tree) InsertFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("bptree: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		k, err := strconv.ParseUint(strings.TrimSpace(scanner.Text()), 10, 64)
		if err != nil {
			return fmt.Errorf("bptree: parse key %q: %w", scanner.Text(), err)
		}
		rid := bnode.RID{PageID: int64(k >> 32), Slot: uint32(k & 0xFFFFFFFF)}
		if _, err := t.Insert(k, rid); err != nil {
			return fmt.Errorf("bptree: insert key %d: %w", k, err)
		}
	}
	return scanner.Err()
}

// RemoveFromFile removes every key parsed the same way InsertFromFile
// parses them (the RID packed into each value is ignored for removal).
func (t *Tree) RemoveFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("bptree: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		k, err := strconv.ParseUint(strings.TrimSpace(scanner.Text()), 10, 64)
		if err != nil {
			return fmt.Errorf("bptree: parse key %q: %w", scanner.Text(), err)
		}
		if err := t.Remove(k); err != nil {
			return fmt.Errorf("bptree: remove key %d: %w", k, err)
		}
	}
	return scanner.Err()
}
