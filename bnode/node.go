// Package bnode defines the on-page layout and editing operations for B+
// tree nodes (internal and leaf). Serialization is grounded on
// DaemonDB/storage_engine/access/indexfile_manager/bplustree/node_to_index_page.go's
// binary.LittleEndian header-then-body layout, generalized from that
// package's fixed MaxKeys=32 to a configurable max size per original_source's
// BPlusTreePage (leaf_max_size_/internal_max_size_ passed in at tree
// construction). Binary search is grounded on
// .../bplustree/binary_search.go (lowerBound / exact-match search).
package bnode

import (
	"encoding/binary"
	"fmt"

	"storagecore/page"
)

// RID (record id) is the payload a leaf entry points at: the heap page
// holding the tuple and its slot within that page.
type RID struct {
	PageID int64
	Slot   uint32
}

const ridSize = 8 + 4 // PageID + Slot
const keySize = 8     // uint64

// Header layout, all little-endian:
//
//	isLeaf     byte   (1)
//	reserved          (3)
//	size       int32  (4)  — current number of keys
//	maxSize    int32  (4)  — capacity: keys for a leaf, children for an internal node
//	pageID     int64  (8)  — self, informational
//	parentID   int64  (8)  — page.InvalidPageID if none
//	nextID     int64  (8)  — leaf-only sibling link, page.InvalidPageID if none
const (
	offIsLeaf   = 0
	offSize     = 4
	offMaxSize  = 8
	offPageID   = 12
	offParentID = 20
	offNextID   = 28
	headerSize  = 36
)

// Node is the decoded, in-memory form of one B+ tree page. Internal nodes
// use Children (len = size+1); leaf nodes use Values (len = size) and Next.
type Node struct {
	PageID   int64
	ParentID int64
	NextID   int64 // leaf only
	IsLeaf   bool
	MaxSize  int

	Keys     []uint64
	Children []int64 // internal only, len == len(Keys)+1
	Values   []RID   // leaf only, len == len(Keys)
}

// NewLeaf returns an empty leaf node for pageID with the given capacity.
func NewLeaf(pageID int64, maxSize int) *Node {
	return &Node{
		PageID:   pageID,
		ParentID: page.InvalidPageID,
		NextID:   page.InvalidPageID,
		IsLeaf:   true,
		MaxSize:  maxSize,
	}
}

// NewInternal returns an empty internal node for pageID with the given
// capacity (max number of children).
func NewInternal(pageID int64, maxSize int) *Node {
	return &Node{
		PageID:   pageID,
		ParentID: page.InvalidPageID,
		NextID:   page.InvalidPageID,
		IsLeaf:   false,
		MaxSize:  maxSize,
	}
}

// Size returns the current key count.
func (n *Node) Size() int { return len(n.Keys) }

// IsFull reports whether the node must be split: a leaf once it holds
// MaxSize keys, an internal node once it has more than MaxSize children.
func (n *Node) IsFull() bool {
	if n.IsLeaf {
		return len(n.Keys) >= n.MaxSize
	}
	return len(n.Children) > n.MaxSize
}

// IsUnderflow reports whether the node holds fewer entries than the
// minimum occupancy, excluding the case where n is the tree root (callers
// special-case that). Leaves use ceil(max_size/2); internal nodes use
// ceil((max_size+1)/2), which floor(max_size/2)+1 equals exactly.
func (n *Node) IsUnderflow() bool {
	if n.IsLeaf {
		minSize := (n.MaxSize + 1) / 2
		return len(n.Keys) < minSize
	}
	minSize := n.MaxSize / 2
	return len(n.Children) < minSize+1
}

// IsSafeForInsert reports whether the node has room for one more entry
// without needing to split — the latch-crabbing release test applied
// before descending past this node on an insert.
func (n *Node) IsSafeForInsert() bool {
	if n.IsLeaf {
		// IsFull splits a leaf once it holds MaxSize keys, so one more key
		// must still leave it below MaxSize.
		return len(n.Keys)+1 < n.MaxSize
	}
	return len(n.Children) < n.MaxSize
}

// IsSafeForDelete reports whether the node has more than the minimum
// entries, so a child's borrow-or-merge can never propagate up through it.
// isRoot relaxes the floor: a root leaf is safe as long as it holds more
// than one key (one removal away from the empty-root special case), a root
// internal node is safe as long as it has more than two children (one merge
// away from needing AdjustRoot).
func (n *Node) IsSafeForDelete(isRoot bool) bool {
	if isRoot {
		if n.IsLeaf {
			// A root leaf with more than one key can shed one without
			// becoming the empty-root special case, which needs the
			// root pointer itself invalidated.
			return len(n.Keys) > 1
		}
		return len(n.Children) > 2
	}
	if n.IsLeaf {
		minSize := (n.MaxSize + 1) / 2
		return len(n.Keys) > minSize
	}
	minSize := n.MaxSize / 2
	return len(n.Children) > minSize+1
}

// KeyAt returns the key at index i.
func (n *Node) KeyAt(i int) uint64 { return n.Keys[i] }

// SetKeyAt overwrites the key at index i (used when a separator is
// rewritten after a borrow).
func (n *Node) SetKeyAt(i int, key uint64) { n.Keys[i] = key }

// Lookup does a binary search for key over n.Keys. For a leaf, ok reports
// an exact match and idx is its position. For an internal node, idx is the
// child slot whose subtree key belongs in (the number of keys <= key),
// since Children[idx] covers [Keys[idx-1], Keys[idx]).
func (n *Node) Lookup(key uint64, cmp func(a, b uint64) int) (idx int, ok bool) {
	lo, hi := 0, len(n.Keys)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if cmp(n.Keys[mid], key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if n.IsLeaf {
		if lo > 0 && cmp(n.Keys[lo-1], key) == 0 {
			return lo - 1, true
		}
		return lo, false
	}
	return lo, false
}

// InsertLeafAt inserts key/rid at position idx, shifting later entries
// right. Caller has already located idx via Lookup.
func (n *Node) InsertLeafAt(idx int, key uint64, rid RID) {
	n.Keys = append(n.Keys, 0)
	copy(n.Keys[idx+1:], n.Keys[idx:])
	n.Keys[idx] = key

	n.Values = append(n.Values, RID{})
	copy(n.Values[idx+1:], n.Values[idx:])
	n.Values[idx] = rid
}

// RemoveLeafAt deletes the entry at idx.
func (n *Node) RemoveLeafAt(idx int) {
	n.Keys = append(n.Keys[:idx], n.Keys[idx+1:]...)
	n.Values = append(n.Values[:idx], n.Values[idx+1:]...)
}

// ChildIndex returns the slot in Children holding childPageID, or -1.
func (n *Node) ChildIndex(childPageID int64) int {
	for i, c := range n.Children {
		if c == childPageID {
			return i
		}
	}
	return -1
}

// PopulateNewRoot makes n a fresh two-child internal root over leftID and
// rightID, separated by key.
func (n *Node) PopulateNewRoot(leftID int64, key uint64, rightID int64) {
	n.Keys = []uint64{key}
	n.Children = []int64{leftID, rightID}
}

// InsertNodeAfter inserts key/rightID into an internal node immediately
// after the existing child oldID. Grounded on .../bplustree/parent_insert.go.
func (n *Node) InsertNodeAfter(oldID int64, key uint64, rightID int64) {
	idx := n.ChildIndex(oldID)
	if idx < 0 {
		idx = len(n.Children) - 1
	}
	n.Keys = append(n.Keys, 0)
	copy(n.Keys[idx+1:], n.Keys[idx:])
	n.Keys[idx] = key

	n.Children = append(n.Children, 0)
	copy(n.Children[idx+2:], n.Children[idx+1:])
	n.Children[idx+1] = rightID
}

// RemoveInternalAt deletes the separator key at keyIdx and the child at
// childIdx (childIdx is keyIdx or keyIdx+1, per caller convention — this
// removes the pairing the caller identifies).
func (n *Node) RemoveInternalAt(keyIdx, childIdx int) {
	n.Keys = append(n.Keys[:keyIdx], n.Keys[keyIdx+1:]...)
	n.Children = append(n.Children[:childIdx], n.Children[childIdx+1:]...)
}

// RemoveAndReturnOnlyChild is valid only on a root with a single child left
// after a merge collapses it; it returns that child's page id.
func (n *Node) RemoveAndReturnOnlyChild() int64 {
	return n.Children[0]
}

// MoveHalfTo splits n, moving its upper half into recipient (used for
// overflow splits of both leaf and internal nodes). For internal nodes the
// median key is NOT included in either half's Keys; it is returned as
// promoted, and the caller inserts it into the parent (see bptree's
// propagateSplit). For leaves, promoted is a copy of recipient's first key.
func (n *Node) MoveHalfTo(recipient *Node) (promoted uint64) {
	mid := len(n.Keys) / 2
	if n.IsLeaf {
		recipient.Keys = append(recipient.Keys, n.Keys[mid:]...)
		recipient.Values = append(recipient.Values, n.Values[mid:]...)
		recipient.NextID = n.NextID
		n.NextID = recipient.PageID
		n.Keys = n.Keys[:mid]
		n.Values = n.Values[:mid]
		return recipient.Keys[0]
	}

	promoted = n.Keys[mid]
	recipient.Keys = append(recipient.Keys, n.Keys[mid+1:]...)
	recipient.Children = append(recipient.Children, n.Children[mid+1:]...)
	n.Keys = n.Keys[:mid]
	n.Children = n.Children[:mid+1]
	return promoted
}

// MoveAllTo merges n entirely into recipient (recipient is the left
// sibling). For internal merges, separatorKey is the parent key pulled down
// between the two subtrees' keys.
func (n *Node) MoveAllTo(recipient *Node, separatorKey uint64) {
	if n.IsLeaf {
		recipient.Keys = append(recipient.Keys, n.Keys...)
		recipient.Values = append(recipient.Values, n.Values...)
		recipient.NextID = n.NextID
		return
	}
	recipient.Keys = append(recipient.Keys, separatorKey)
	recipient.Keys = append(recipient.Keys, n.Keys...)
	recipient.Children = append(recipient.Children, n.Children...)
}

// MoveFirstToEndOf takes n's first entry and appends it to recipient
// (recipient is the left sibling; used when borrowing from the right).
// For internal nodes, separatorKey is the parent separator rotated down and
// newSeparator is n's first key, which must replace the parent separator.
func (n *Node) MoveFirstToEndOf(recipient *Node, separatorKey uint64) (newSeparator uint64) {
	if n.IsLeaf {
		recipient.Keys = append(recipient.Keys, n.Keys[0])
		recipient.Values = append(recipient.Values, n.Values[0])
		n.Keys = n.Keys[1:]
		n.Values = n.Values[1:]
		return n.Keys[0]
	}

	recipient.Keys = append(recipient.Keys, separatorKey)
	recipient.Children = append(recipient.Children, n.Children[0])
	newSeparator = n.Keys[0]
	n.Keys = n.Keys[1:]
	n.Children = n.Children[1:]
	return newSeparator
}

// MoveLastToFrontOf takes n's last entry and prepends it to recipient
// (recipient is the right sibling; used when borrowing from the left).
func (n *Node) MoveLastToFrontOf(recipient *Node, separatorKey uint64) (newSeparator uint64) {
	last := len(n.Keys) - 1
	if n.IsLeaf {
		recipient.Keys = append([]uint64{n.Keys[last]}, recipient.Keys...)
		recipient.Values = append([]RID{n.Values[last]}, recipient.Values...)
		n.Keys = n.Keys[:last]
		n.Values = n.Values[:last]
		return recipient.Keys[0]
	}

	lastChild := len(n.Children) - 1
	recipient.Keys = append([]uint64{separatorKey}, recipient.Keys...)
	recipient.Children = append([]int64{n.Children[lastChild]}, recipient.Children...)
	newSeparator = n.Keys[last]
	n.Keys = n.Keys[:last]
	n.Children = n.Children[:lastChild]
	return newSeparator
}

// Serialize writes n into data, a page.PageSize buffer.
func Serialize(n *Node, data []byte) error {
	if len(data) != page.PageSize {
		return fmt.Errorf("bnode: serialize buffer must be %d bytes", page.PageSize)
	}

	if n.IsLeaf {
		data[offIsLeaf] = 1
	} else {
		data[offIsLeaf] = 0
	}
	binary.LittleEndian.PutUint32(data[offSize:], uint32(len(n.Keys)))
	binary.LittleEndian.PutUint32(data[offMaxSize:], uint32(n.MaxSize))
	binary.LittleEndian.PutUint64(data[offPageID:], uint64(n.PageID))
	binary.LittleEndian.PutUint64(data[offParentID:], uint64(n.ParentID))
	binary.LittleEndian.PutUint64(data[offNextID:], uint64(n.NextID))

	off := headerSize
	for _, k := range n.Keys {
		if off+keySize > page.PageSize {
			return fmt.Errorf("bnode: serialize: key overflow")
		}
		binary.LittleEndian.PutUint64(data[off:], k)
		off += keySize
	}

	if n.IsLeaf {
		for _, v := range n.Values {
			if off+ridSize > page.PageSize {
				return fmt.Errorf("bnode: serialize: value overflow")
			}
			binary.LittleEndian.PutUint64(data[off:], uint64(v.PageID))
			off += 8
			binary.LittleEndian.PutUint32(data[off:], v.Slot)
			off += 4
		}
	} else {
		for _, c := range n.Children {
			if off+8 > page.PageSize {
				return fmt.Errorf("bnode: serialize: child overflow")
			}
			binary.LittleEndian.PutUint64(data[off:], uint64(c))
			off += 8
		}
	}
	return nil
}

// Deserialize reconstructs a Node from data, a page.PageSize buffer.
func Deserialize(data []byte) (*Node, error) {
	if len(data) != page.PageSize {
		return nil, fmt.Errorf("bnode: deserialize buffer must be %d bytes", page.PageSize)
	}

	n := &Node{
		IsLeaf:   data[offIsLeaf] == 1,
		PageID:   int64(binary.LittleEndian.Uint64(data[offPageID:])),
		ParentID: int64(binary.LittleEndian.Uint64(data[offParentID:])),
		NextID:   int64(binary.LittleEndian.Uint64(data[offNextID:])),
		MaxSize:  int(int32(binary.LittleEndian.Uint32(data[offMaxSize:]))),
	}
	size := int(binary.LittleEndian.Uint32(data[offSize:]))

	off := headerSize
	n.Keys = make([]uint64, size)
	for i := 0; i < size; i++ {
		n.Keys[i] = binary.LittleEndian.Uint64(data[off:])
		off += keySize
	}

	if n.IsLeaf {
		n.Values = make([]RID, size)
		for i := 0; i < size; i++ {
			n.Values[i] = RID{
				PageID: int64(binary.LittleEndian.Uint64(data[off:])),
				Slot:   binary.LittleEndian.Uint32(data[off+8:]),
			}
			off += ridSize
		}
	} else {
		n.Children = make([]int64, size+1)
		for i := 0; i <= size; i++ {
			n.Children[i] = int64(binary.LittleEndian.Uint64(data[off:]))
			off += 8
		}
	}
	return n, nil
}
