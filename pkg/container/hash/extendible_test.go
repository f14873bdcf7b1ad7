package hash

import (
	"fmt"
	"sync"
	"testing"
)

func intHash(k int) uint64 {
	// Deliberately simple (identity-ish) so directory growth in tests is
	// predictable rather than relying on avalanche behavior from a real
	// hash function.
	return uint64(k)
}

func TestInsertFindRoundTrip(t *testing.T) {
	tbl := New[int, string](2, intHash)

	for i := 0; i < 32; i++ {
		tbl.Insert(i, fmt.Sprintf("v%d", i))
	}
	for i := 0; i < 32; i++ {
		v, ok := tbl.Find(i)
		if !ok {
			t.Fatalf("key %d missing after insert", i)
		}
		if v != fmt.Sprintf("v%d", i) {
			t.Fatalf("key %d: got %q", i, v)
		}
	}
}

func TestInsertUpdatesExistingKey(t *testing.T) {
	tbl := New[int, string](4, intHash)
	tbl.Insert(1, "a")
	tbl.Insert(1, "b")

	v, ok := tbl.Find(1)
	if !ok || v != "b" {
		t.Fatalf("expected updated value %q, got %q ok=%v", "b", v, ok)
	}
	if n := tbl.GetNumBuckets(); n != 1 {
		t.Fatalf("update in place should not grow the directory, got %d buckets", n)
	}
}

func TestDirectoryDoublesOnlyWhenNeeded(t *testing.T) {
	tbl := New[int, int](2, intHash)

	if d := tbl.GetGlobalDepth(); d != 0 {
		t.Fatalf("expected global depth 0 initially, got %d", d)
	}

	// Three even keys in buckets of size 2: the first split (on bit 0)
	// leaves all three in the same bucket, so the directory has to keep
	// growing until bit 1 separates 2 from 0 and 4.
	tbl.Insert(0, 0)
	tbl.Insert(2, 2)
	tbl.Insert(4, 4) // forces a split since bucket size is 2

	if tbl.GetGlobalDepth() < 1 {
		t.Fatalf("expected global depth to have grown, got %d", tbl.GetGlobalDepth())
	}
	for _, k := range []int{0, 2, 4} {
		if _, ok := tbl.Find(k); !ok {
			t.Fatalf("key %d lost after split", k)
		}
	}
}

func TestRemove(t *testing.T) {
	tbl := New[int, int](4, intHash)
	tbl.Insert(7, 70)

	if !tbl.Remove(7) {
		t.Fatalf("expected Remove to report success")
	}
	if _, ok := tbl.Find(7); ok {
		t.Fatalf("expected key removed")
	}
	if tbl.Remove(7) {
		t.Fatalf("expected second Remove of an absent key to report false")
	}
}

func TestLocalDepthNeverExceedsGlobalDepth(t *testing.T) {
	tbl := New[int, int](1, intHash)
	for i := 0; i < 64; i++ {
		tbl.Insert(i, i)
	}
	global := tbl.GetGlobalDepth()
	for i := 0; i < (1 << uint(global)); i++ {
		local, ok := tbl.GetLocalDepth(i)
		if !ok {
			t.Fatalf("slot %d out of range", i)
		}
		if local > global {
			t.Fatalf("slot %d local depth %d exceeds global depth %d", i, local, global)
		}
	}
}

func TestConcurrentInsertFind(t *testing.T) {
	tbl := New[int, int](4, intHash)
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := base*1000 + i
				tbl.Insert(key, key)
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < 8; w++ {
		for i := 0; i < 50; i++ {
			key := w*1000 + i
			if v, ok := tbl.Find(key); !ok || v != key {
				t.Fatalf("key %d missing or wrong after concurrent inserts", key)
			}
		}
	}
}
