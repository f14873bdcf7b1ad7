package btree

import (
	"testing"

	"storagecore/pkg/common"
	"storagecore/pkg/storage/buffer"
	"storagecore/pkg/storage/disk"
)

func intCmp(a, b int) int { return a - b }

func newTestTree(t *testing.T, leafMax, internalMax int) *Tree[int, string] {
	t.Helper()
	pool := buffer.New(disk.NewMemoryManager(), 64, 2)
	if err := InitHeaderPage(pool); err != nil {
		t.Fatalf("InitHeaderPage: %v", err)
	}
	return New[int, string](pool, "test-index", intCmp, leafMax, internalMax)
}

func TestInsertAndGetValue(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	for i := 0; i < 20; i++ {
		if !tree.Insert(i, "v") {
			t.Fatalf("insert %d failed", i)
		}
	}
	for i := 0; i < 20; i++ {
		if _, ok := tree.GetValue(i); !ok {
			t.Fatalf("key %d missing after insert", i)
		}
	}
	if _, ok := tree.GetValue(999); ok {
		t.Fatalf("expected absent key to report not found")
	}
}

func TestInsertDuplicateKeyFails(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	if !tree.Insert(1, "a") {
		t.Fatalf("first insert should succeed")
	}
	if tree.Insert(1, "b") {
		t.Fatalf("expected duplicate insert to fail")
	}
	v, _ := tree.GetValue(1)
	if v != "a" {
		t.Fatalf("expected original value preserved, got %q", v)
	}
}

func TestSplitProducesMultiLevelTree(t *testing.T) {
	tree := newTestTree(t, 3, 3)

	for i := 0; i < 100; i++ {
		tree.Insert(i, "x")
	}

	tree.rootMu.RLock()
	root := tree.rootPageID
	tree.rootMu.RUnlock()

	if _, isLeaf := tree.getLeaf(root); isLeaf {
		t.Fatalf("expected root to have split into an internal node after 100 inserts with leaf max 3")
	}
	for i := 0; i < 100; i++ {
		if _, ok := tree.GetValue(i); !ok {
			t.Fatalf("key %d missing after tree grew multiple levels", i)
		}
	}
}

func TestDeleteThenGetValueMisses(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	for i := 0; i < 10; i++ {
		tree.Insert(i, "x")
	}
	if !tree.Remove(5) {
		t.Fatalf("expected remove of present key to succeed")
	}
	if _, ok := tree.GetValue(5); ok {
		t.Fatalf("expected key 5 to be gone")
	}
	if tree.Remove(5) {
		t.Fatalf("expected second remove of the same key to fail")
	}
	for _, k := range []int{0, 1, 2, 3, 4, 6, 7, 8, 9} {
		if _, ok := tree.GetValue(k); !ok {
			t.Fatalf("key %d lost after unrelated delete", k)
		}
	}
}

func TestDeleteTriggersMergeAcrossManyKeys(t *testing.T) {
	tree := newTestTree(t, 3, 3)
	for i := 0; i < 50; i++ {
		tree.Insert(i, "x")
	}
	for i := 0; i < 45; i++ {
		if !tree.Remove(i) {
			t.Fatalf("remove %d failed", i)
		}
	}
	for i := 0; i < 45; i++ {
		if _, ok := tree.GetValue(i); ok {
			t.Fatalf("key %d should have been deleted", i)
		}
	}
	for i := 45; i < 50; i++ {
		if _, ok := tree.GetValue(i); !ok {
			t.Fatalf("surviving key %d lost during merge cascade", i)
		}
	}
}

func TestDeleteEveryKeyEmptiesTreeAndResetsRoot(t *testing.T) {
	tree := newTestTree(t, 3, 3)
	for i := 0; i < 50; i++ {
		tree.Insert(i, "x")
	}
	for i := 0; i < 50; i++ {
		if !tree.Remove(i) {
			t.Fatalf("remove %d failed", i)
		}
	}

	tree.rootMu.RLock()
	root := tree.rootPageID
	tree.rootMu.RUnlock()
	if root != common.InvalidPageID {
		t.Fatalf("expected root page id to reset to InvalidPageID once the tree is empty, got %d", root)
	}

	if it := tree.Begin(); it.Valid() {
		t.Fatalf("expected Begin() on an emptied tree to be invalid")
	}

	if !tree.Insert(7, "y") {
		t.Fatalf("expected insert into an emptied tree to succeed")
	}
	if v, ok := tree.GetValue(7); !ok || v != "y" {
		t.Fatalf("expected key 7 to be found after re-inserting into an emptied tree")
	}
}

func TestIteratorScansInOrder(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	want := []int{5, 3, 8, 1, 9, 2, 7}
	for _, k := range want {
		tree.Insert(k, "x")
	}

	var got []int
	for it := tree.Begin(); it.Valid(); it.Next() {
		got = append(got, it.Key())
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %v", len(want), len(got), got)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("iterator not in ascending order: %v", got)
		}
	}
}

func TestBeginAtScansFromKey(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	for i := 0; i < 20; i += 2 {
		tree.Insert(i, "x")
	}

	it := tree.BeginAt(9)
	if !it.Valid() {
		t.Fatalf("expected an entry at or after key 9")
	}
	if it.Key() != 10 {
		t.Fatalf("expected first key >= 9 to be 10, got %d", it.Key())
	}

	count := 0
	for ; it.Valid(); it.Next() {
		count++
	}
	if count != 5 { // 10,12,14,16,18
		t.Fatalf("expected 5 entries from key 9 onward, got %d", count)
	}
}

func TestEmptyTreeBeginIsInvalid(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	it := tree.Begin()
	if it.Valid() {
		t.Fatalf("expected empty tree's Begin() to be invalid")
	}
}
