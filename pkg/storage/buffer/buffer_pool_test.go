package buffer

import (
	"testing"

	"storagecore/pkg/common"
	"storagecore/pkg/storage/disk"
)

func newTestPool(poolSize int) *Manager {
	return New(disk.NewMemoryManager(), poolSize, 2)
}

func TestNewPageThenFetch(t *testing.T) {
	pool := newTestPool(4)

	id, data := pool.NewPage()
	if data == nil {
		t.Fatalf("NewPage returned nil data")
	}
	copy(data, []byte("hello"))
	if !pool.UnpinPage(id, true) {
		t.Fatalf("UnpinPage failed")
	}

	fetched := pool.FetchPage(id)
	if fetched == nil {
		t.Fatalf("FetchPage returned nil")
	}
	if string(fetched[:5]) != "hello" {
		t.Fatalf("data not preserved across fetch: got %q", fetched[:5])
	}
	pool.UnpinPage(id, false)
}

func TestNewWithConfigRejectsInvalidConfig(t *testing.T) {
	cfg := common.DefaultConfig()
	cfg.PoolSize = 0
	if _, err := NewWithConfig(disk.NewMemoryManager(), cfg); err == nil {
		t.Fatalf("expected NewWithConfig to reject a zero pool size")
	}
}

func TestNewWithConfigBuildsUsablePool(t *testing.T) {
	cfg := common.DefaultConfig()
	cfg.PoolSize = 4
	pool, err := NewWithConfig(disk.NewMemoryManager(), cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	id, data := pool.NewPage()
	if data == nil {
		t.Fatalf("expected NewPage to succeed on a pool built from a valid config")
	}
	pool.UnpinPage(id, false)
}

func TestPoolExhaustionWithNoEvictableFrames(t *testing.T) {
	pool := newTestPool(2)

	id1, _ := pool.NewPage()
	id2, _ := pool.NewPage()
	if id1 == common.InvalidPageID || id2 == common.InvalidPageID {
		t.Fatalf("expected two pages to be allocated")
	}

	// Both frames are pinned (pin count 1) and not evictable: a third
	// NewPage must fail.
	if id, data := pool.NewPage(); data != nil {
		t.Fatalf("expected NewPage to fail with pool exhausted, got page %d", id)
	}
}

func TestEvictionReclaimsUnpinnedFrame(t *testing.T) {
	pool := newTestPool(1)

	id1, data1 := pool.NewPage()
	copy(data1, []byte("first"))
	pool.UnpinPage(id1, true)

	id2, data2 := pool.NewPage()
	if data2 == nil {
		t.Fatalf("expected eviction to free a frame for the second page")
	}
	if id2 == id1 {
		t.Fatalf("expected a new page id, got the same id back")
	}

	// The evicted page's dirty data should have been flushed and remain
	// fetchable after its frame was reused.
	pool.UnpinPage(id2, false)
	refetched := pool.FetchPage(id1)
	if refetched == nil {
		t.Fatalf("expected evicted page to be refetchable from disk")
	}
	if string(refetched[:5]) != "first" {
		t.Fatalf("expected flushed data to persist, got %q", refetched[:5])
	}
}

func TestUnpinTwiceReportsFalse(t *testing.T) {
	pool := newTestPool(2)
	id, _ := pool.NewPage()

	if !pool.UnpinPage(id, false) {
		t.Fatalf("first unpin should succeed")
	}
	if pool.UnpinPage(id, false) {
		t.Fatalf("second unpin on an already-zero pin count should fail")
	}
}

func TestDeletePageRefusesWhilePinned(t *testing.T) {
	pool := newTestPool(2)
	id, _ := pool.NewPage()

	if pool.DeletePage(id) {
		t.Fatalf("expected DeletePage to refuse a pinned page")
	}
	pool.UnpinPage(id, false)
	if !pool.DeletePage(id) {
		t.Fatalf("expected DeletePage to succeed once unpinned")
	}
	if pool.FetchPage(id) == nil {
		t.Fatalf("expected fetching a deleted page id to allocate a fresh frame, not fail outright")
	}
}

func TestFlushAllPagesClearsDirtyFlags(t *testing.T) {
	pool := newTestPool(4)

	var ids []common.PageID
	for i := 0; i < 3; i++ {
		id, data := pool.NewPage()
		copy(data, []byte{byte(i)})
		pool.UnpinPage(id, true)
		ids = append(ids, id)
	}

	if err := pool.FlushAllPages(); err != nil {
		t.Fatalf("FlushAllPages: %v", err)
	}

	for _, id := range ids {
		frameID, ok := pool.table.Find(id)
		if !ok {
			continue
		}
		if pool.pages[frameID].IsDirty {
			t.Fatalf("page %d still marked dirty after FlushAllPages", id)
		}
	}
}

func TestPinnedPageDoubleUnpinPanics(t *testing.T) {
	pool := newTestPool(2)
	pinned, _ := pool.NewPinned()
	if pinned == nil {
		t.Fatalf("expected a pinned page")
	}
	pinned.Unpin(false)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected second Unpin to panic")
		}
	}()
	pinned.Unpin(false)
}
