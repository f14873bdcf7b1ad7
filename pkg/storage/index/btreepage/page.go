// Package btreepage defines the generic B+ tree node pages the index
// package operates on: a leaf page holding (key, value) slots and an
// internal page holding (key, child page id) slots. Both share the
// teacher's header-plus-slot-array shape (`BTreePage` in
// storemy/pkg/storage/index/btree/btree_page.go: parent/next-leaf/prev-leaf
// page numbers, a typed entry slice, `slices.Insert`/`slices.Delete` for
// in-place slot mutation) generalized from the teacher's untyped
// `types.Field`/`RID` pair and hard-coded `MaxEntriesPerPage` to a
// generic `(K, V)` slot array with a configurable max size, so the same
// page shape serves any key/value pair the B+ tree index is instantiated
// with.
package btreepage

import "slices"

// Comparator orders two keys the way sort.Search / slices.BinarySearch
// expect: negative if a < b, zero if equal, positive if a > b.
type Comparator[K any] func(a, b K) int

// search returns the smallest index i such that cmp(keys[i], key) >= 0,
// and whether keys[i] == key at that index. This is "the position of the
// first key not less than key" used throughout leaf and internal lookup.
func search[K any](keys []K, key K, cmp Comparator[K]) (int, bool) {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	found := lo < len(keys) && cmp(keys[lo], key) == 0
	return lo, found
}

// LeafPage holds the actual (key, value) pairs of the index, in sorted
// key order, plus sibling links for the forward iterator.
type LeafPage[K any, V any] struct {
	Keys         []K
	Values       []V
	ParentPageID int32
	NextPageID   int32
	PrevPageID   int32
	MaxSize      int
}

// NewLeafPage returns an empty leaf with no siblings.
func NewLeafPage[K any, V any](maxSize int, invalidID int32) *LeafPage[K, V] {
	return &LeafPage[K, V]{
		ParentPageID: invalidID,
		NextPageID:   invalidID,
		PrevPageID:   invalidID,
		MaxSize:      maxSize,
	}
}

func (p *LeafPage[K, V]) Size() int { return len(p.Keys) }

// IsFull reports whether the leaf holds max_size entries or more; an
// insertion that leaves a leaf in this state splits it. This is not the
// leaf safety predicate used while descending for an insert
// (`size + 1 < max_size`), which already fails one entry earlier.
func (p *LeafPage[K, V]) IsFull() bool { return p.Size() >= p.MaxSize }

// Find returns the value stored under key, if present.
func (p *LeafPage[K, V]) Find(key K, cmp Comparator[K]) (V, bool) {
	idx, found := search(p.Keys, key, cmp)
	if !found {
		var zero V
		return zero, false
	}
	return p.Values[idx], true
}

// Insert places (key, value) in sorted position. Returns false without
// modifying the page if key is already present (callers wanting upsert
// semantics should Find first).
func (p *LeafPage[K, V]) Insert(key K, value V, cmp Comparator[K]) bool {
	idx, found := search(p.Keys, key, cmp)
	if found {
		return false
	}
	p.Keys = slices.Insert(p.Keys, idx, key)
	p.Values = slices.Insert(p.Values, idx, value)
	return true
}

// Delete removes key, reporting whether it was present.
func (p *LeafPage[K, V]) Delete(key K, cmp Comparator[K]) bool {
	idx, found := search(p.Keys, key, cmp)
	if !found {
		return false
	}
	p.Keys = slices.Delete(p.Keys, idx, idx+1)
	p.Values = slices.Delete(p.Values, idx, idx+1)
	return true
}

// Split moves the upper half of this leaf's entries into a new leaf,
// wires the sibling pointers, and returns the new leaf along with its
// first key (the separator promoted into the parent).
func (p *LeafPage[K, V]) Split(newPageID int32) (*LeafPage[K, V], K) {
	mid := p.Size() / 2
	right := &LeafPage[K, V]{
		Keys:         append([]K(nil), p.Keys[mid:]...),
		Values:       append([]V(nil), p.Values[mid:]...),
		ParentPageID: p.ParentPageID,
		NextPageID:   p.NextPageID,
		PrevPageID:   0, // caller sets to this leaf's page id
		MaxSize:      p.MaxSize,
	}
	p.Keys = p.Keys[:mid]
	p.Values = p.Values[:mid]
	p.NextPageID = newPageID
	return right, right.Keys[0]
}

// Merge appends right's entries onto p and adopts right's next-sibling
// link, collapsing right out of the leaf chain.
func (p *LeafPage[K, V]) Merge(right *LeafPage[K, V]) {
	p.Keys = append(p.Keys, right.Keys...)
	p.Values = append(p.Values, right.Values...)
	p.NextPageID = right.NextPageID
}

// BorrowFromRight moves right's first entry onto the end of p (used when
// p underflows and its right sibling has entries to spare), returning
// the new separator key (right's new first key) for the parent to adopt.
func (p *LeafPage[K, V]) BorrowFromRight(right *LeafPage[K, V]) K {
	k, v := right.Keys[0], right.Values[0]
	right.Keys = right.Keys[1:]
	right.Values = right.Values[1:]
	p.Keys = append(p.Keys, k)
	p.Values = append(p.Values, v)
	return right.Keys[0]
}

// BorrowFromLeft moves left's last entry onto the front of p, returning
// the new separator key (p's new first key).
func (p *LeafPage[K, V]) BorrowFromLeft(left *LeafPage[K, V]) K {
	n := len(left.Keys) - 1
	k, v := left.Keys[n], left.Values[n]
	left.Keys = left.Keys[:n]
	left.Values = left.Values[:n]
	p.Keys = slices.Insert(p.Keys, 0, k)
	p.Values = slices.Insert(p.Values, 0, v)
	return p.Keys[0]
}

// InternalPage holds n child pointers and n-1 separator keys: keys[i-1]
// is the smallest key reachable through children[i]. children[0] has no
// associated key.
type InternalPage[K any] struct {
	Keys         []K
	Children     []int32
	ParentPageID int32
	MaxSize      int
}

// NewInternalPage returns an internal page with no children.
func NewInternalPage[K any](maxSize int, invalidID int32) *InternalPage[K] {
	return &InternalPage[K]{ParentPageID: invalidID, MaxSize: maxSize}
}

func (p *InternalPage[K]) Size() int { return len(p.Children) }

// IsFull reports whether the internal node holds max_size children
// already, per the specification's internal safety predicate
// `size < max_size` for insertion.
func (p *InternalPage[K]) IsFull() bool { return p.Size() >= p.MaxSize }

// ChildFor returns the child page id that should be followed to reach
// key: the last child whose separator key is <= key, or children[0] if
// key is less than every separator.
func (p *InternalPage[K]) ChildFor(key K, cmp Comparator[K]) int32 {
	idx, found := search(p.Keys, key, cmp)
	if found {
		// keys[idx] <= key exactly: descend into children[idx+1].
		return p.Children[idx+1]
	}
	// idx is the first key strictly greater than key: descend into
	// children[idx], the child covering [keys[idx-1], keys[idx]).
	return p.Children[idx]
}

// InsertChild inserts a new (separator key, child) pair to the right of
// an existing child at leftChildIdx, used after a split promotes a
// separator up to this level.
func (p *InternalPage[K]) InsertChild(leftChildIdx int, key K, child int32) {
	p.Keys = slices.Insert(p.Keys, leftChildIdx, key)
	p.Children = slices.Insert(p.Children, leftChildIdx+1, child)
}

// IndexOfChild returns the slot index of the given child page id, or -1.
func (p *InternalPage[K]) IndexOfChild(child int32) int {
	for i, c := range p.Children {
		if c == child {
			return i
		}
	}
	return -1
}

// RemoveChildAt removes the child at index idx along with the separator
// key to its left (or, for idx == 0, the separator to its right, since
// children[0] has none).
func (p *InternalPage[K]) RemoveChildAt(idx int) {
	if idx == 0 {
		if len(p.Keys) > 0 {
			p.Keys = slices.Delete(p.Keys, 0, 1)
		}
	} else {
		p.Keys = slices.Delete(p.Keys, idx-1, idx)
	}
	p.Children = slices.Delete(p.Children, idx, idx+1)
}

// Split moves the upper half of children (and the keys between them)
// into a new internal page, promoting the boundary key up to the
// parent. Unlike a leaf split, the promoted key does not remain in
// either half.
func (p *InternalPage[K]) Split() (*InternalPage[K], K) {
	mid := p.Size() / 2
	upKey := p.Keys[mid-1]

	right := &InternalPage[K]{
		Keys:         append([]K(nil), p.Keys[mid:]...),
		Children:     append([]int32(nil), p.Children[mid:]...),
		ParentPageID: p.ParentPageID,
		MaxSize:      p.MaxSize,
	}
	p.Keys = p.Keys[:mid-1]
	p.Children = p.Children[:mid]
	return right, upKey
}

// Merge folds right's children into p, reinstating downKey (the
// separator that used to sit between p and right in their shared
// parent) as the boundary key between the two runs of children.
func (p *InternalPage[K]) Merge(right *InternalPage[K], downKey K) {
	p.Keys = append(p.Keys, downKey)
	p.Keys = append(p.Keys, right.Keys...)
	p.Children = append(p.Children, right.Children...)
}

// BorrowFromRight moves right's leftmost child under p, using downKey
// (the parent separator between p and right) as p's new trailing key,
// and returns right's new leftmost key as the parent's updated
// separator.
func (p *InternalPage[K]) BorrowFromRight(right *InternalPage[K], downKey K) K {
	p.Keys = append(p.Keys, downKey)
	p.Children = append(p.Children, right.Children[0])
	newSeparator := right.Keys[0]
	right.Keys = right.Keys[1:]
	right.Children = right.Children[1:]
	return newSeparator
}

// BorrowFromLeft moves left's rightmost child under p, using downKey
// (the parent separator between left and p) as p's new leading key, and
// returns left's new trailing key as the parent's updated separator.
func (p *InternalPage[K]) BorrowFromLeft(left *InternalPage[K], downKey K) K {
	n := len(left.Children) - 1
	movedChild := left.Children[n]
	newSeparator := left.Keys[len(left.Keys)-1]
	left.Children = left.Children[:n]
	left.Keys = left.Keys[:len(left.Keys)-1]

	p.Keys = slices.Insert(p.Keys, 0, downKey)
	p.Children = slices.Insert(p.Children, 0, movedChild)
	return newSeparator
}
