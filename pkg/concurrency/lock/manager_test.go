package lock

import (
	"sync"
	"testing"
	"time"

	"storagecore/pkg/concurrency/txn"
)

func TestLockTableGrantsCompatibleSharedLocks(t *testing.T) {
	txnMgr := txn.NewManager()
	lm := NewManager()
	t1 := txnMgr.Begin(txn.RepeatableRead)
	t2 := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockTable(t1, Shared, 1); err != nil {
		t.Fatalf("t1 LockTable: %v", err)
	}
	if err := lm.LockTable(t2, Shared, 1); err != nil {
		t.Fatalf("t2 LockTable: %v", err)
	}
	if !t1.HoldsTable(tableModeSelector(Shared), 1) || !t2.HoldsTable(tableModeSelector(Shared), 1) {
		t.Error("both transactions should hold the shared table lock")
	}
}

func TestLockTableBlocksIncompatibleThenGrantsOnRelease(t *testing.T) {
	txnMgr := txn.NewManager()
	lm := NewManager()
	t1 := txnMgr.Begin(txn.RepeatableRead)
	t2 := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockTable(t1, Exclusive, 1); err != nil {
		t.Fatalf("t1 LockTable: %v", err)
	}

	granted := make(chan struct{})
	go func() {
		if err := lm.LockTable(t2, Exclusive, 1); err != nil {
			t.Errorf("t2 LockTable: %v", err)
		}
		close(granted)
	}()

	select {
	case <-granted:
		t.Fatal("t2 should not be granted while t1 holds an incompatible lock")
	case <-time.After(50 * time.Millisecond):
	}

	if err := lm.UnlockTable(t1, 1); err != nil {
		t.Fatalf("t1 UnlockTable: %v", err)
	}

	select {
	case <-granted:
	case <-time.After(time.Second):
		t.Fatal("t2 was never granted the lock after t1 released it")
	}
}

func TestUnlockTableRejectsWhileRowsHeld(t *testing.T) {
	txnMgr := txn.NewManager()
	lm := NewManager()
	tr := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockTable(tr, IntentionExclusive, 1); err != nil {
		t.Fatalf("LockTable: %v", err)
	}
	if err := lm.LockRow(tr, Exclusive, 1, 100); err != nil {
		t.Fatalf("LockRow: %v", err)
	}
	if err := lm.UnlockTable(tr, 1); err == nil {
		t.Fatal("expected UnlockTable to reject while a row lock is still held")
	}
}

func TestLockRowRequiresTableLockFirst(t *testing.T) {
	txnMgr := txn.NewManager()
	lm := NewManager()
	tr := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockRow(tr, Shared, 1, 100); err == nil {
		t.Fatal("expected LockRow to reject without a table-level lock")
	}
}

func TestLockTableUpgradeSharedToExclusive(t *testing.T) {
	txnMgr := txn.NewManager()
	lm := NewManager()
	tr := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockTable(tr, Shared, 1); err != nil {
		t.Fatalf("initial LockTable: %v", err)
	}
	if err := lm.LockTable(tr, Exclusive, 1); err != nil {
		t.Fatalf("upgrade LockTable: %v", err)
	}
	if tr.HoldsTable(tableModeSelector(Shared), 1) {
		t.Error("shared lock should be dropped after upgrading to exclusive")
	}
	if !tr.HoldsTable(tableModeSelector(Exclusive), 1) {
		t.Error("expected exclusive lock after upgrade")
	}
}

func TestGrowingToShrinkingTransitionOnUnlock(t *testing.T) {
	txnMgr := txn.NewManager()
	lm := NewManager()
	tr := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockTable(tr, Shared, 1); err != nil {
		t.Fatalf("LockTable: %v", err)
	}
	if err := lm.UnlockTable(tr, 1); err != nil {
		t.Fatalf("UnlockTable: %v", err)
	}
	if tr.State() != txn.Shrinking {
		t.Errorf("expected SHRINKING after first unlock, got %s", tr.State())
	}
}

func TestUnlockTableIntentionOnlyDoesNotEnterShrinking(t *testing.T) {
	txnMgr := txn.NewManager()
	lm := NewManager()
	tr := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockTable(tr, IntentionExclusive, 1); err != nil {
		t.Fatalf("LockTable: %v", err)
	}
	if err := lm.UnlockTable(tr, 1); err != nil {
		t.Fatalf("UnlockTable: %v", err)
	}
	if tr.State() != txn.Growing {
		t.Errorf("expected releasing an intention-only lock to leave the transaction GROWING, got %s", tr.State())
	}

	// Growing still means further acquisitions are legal.
	if err := lm.LockTable(tr, IntentionShared, 2); err != nil {
		t.Errorf("expected a further lock acquisition to succeed while still GROWING, got %v", err)
	}
}

func TestUnlockTableReadCommittedSharedDoesNotEnterShrinking(t *testing.T) {
	txnMgr := txn.NewManager()
	lm := NewManager()
	tr := txnMgr.Begin(txn.ReadCommitted)

	if err := lm.LockTable(tr, Shared, 1); err != nil {
		t.Fatalf("LockTable: %v", err)
	}
	if err := lm.UnlockTable(tr, 1); err != nil {
		t.Fatalf("UnlockTable: %v", err)
	}
	if tr.State() != txn.Growing {
		t.Errorf("expected READ_COMMITTED releasing a shared lock to leave the transaction GROWING, got %s", tr.State())
	}

	if err := lm.LockTable(tr, Exclusive, 2); err != nil {
		t.Fatalf("LockTable: %v", err)
	}
	if err := lm.UnlockTable(tr, 2); err != nil {
		t.Fatalf("UnlockTable: %v", err)
	}
	if tr.State() != txn.Shrinking {
		t.Errorf("expected READ_COMMITTED releasing an exclusive lock to enter SHRINKING, got %s", tr.State())
	}
}

func TestFIFOOrderingAmongWaiters(t *testing.T) {
	txnMgr := txn.NewManager()
	lm := NewManager()
	holder := txnMgr.Begin(txn.RepeatableRead)
	if err := lm.LockTable(holder, Exclusive, 1); err != nil {
		t.Fatalf("holder LockTable: %v", err)
	}

	var mu sync.Mutex
	var order []txn.TxnID
	var wg sync.WaitGroup

	waiters := make([]*txn.Transaction, 3)
	for i := range waiters {
		waiters[i] = txnMgr.Begin(txn.RepeatableRead)
	}
	for _, w := range waiters {
		wg.Add(1)
		go func(w *txn.Transaction) {
			defer wg.Done()
			if err := lm.LockTable(w, Shared, 1); err != nil {
				t.Errorf("waiter LockTable: %v", err)
				return
			}
			mu.Lock()
			order = append(order, w.ID())
			mu.Unlock()
		}(w)
		time.Sleep(10 * time.Millisecond) // ensure request order in the FIFO queue
	}

	if err := lm.UnlockTable(holder, 1); err != nil {
		t.Fatalf("holder UnlockTable: %v", err)
	}
	wg.Wait()

	if len(order) != len(waiters) {
		t.Fatalf("expected all %d waiters granted, got %d", len(waiters), len(order))
	}
	for i, w := range waiters {
		if order[i] != w.ID() {
			t.Errorf("expected FIFO grant order %v, got %v", ids(waiters), order)
			break
		}
	}
}

func ids(ts []*txn.Transaction) []txn.TxnID {
	out := make([]txn.TxnID, len(ts))
	for i, tr := range ts {
		out[i] = tr.ID()
	}
	return out
}

func TestReleaseAllDropsEveryLock(t *testing.T) {
	txnMgr := txn.NewManager()
	lm := NewManager()
	tr := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockTable(tr, IntentionExclusive, 1); err != nil {
		t.Fatalf("LockTable: %v", err)
	}
	if err := lm.LockRow(tr, Exclusive, 1, 5); err != nil {
		t.Fatalf("LockRow: %v", err)
	}

	lm.ReleaseAll(tr)

	other := txnMgr.Begin(txn.RepeatableRead)
	if err := lm.LockTable(other, Exclusive, 1); err != nil {
		t.Errorf("expected table 1 to be free after ReleaseAll, got %v", err)
	}
}

func TestLockRowUpgradeConflictAborts(t *testing.T) {
	txnMgr := txn.NewManager()
	lm := NewManager()
	t1 := txnMgr.Begin(txn.RepeatableRead)
	t2 := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockTable(t1, IntentionShared, 1); err != nil {
		t.Fatalf("t1 LockTable: %v", err)
	}
	if err := lm.LockTable(t2, IntentionShared, 1); err != nil {
		t.Fatalf("t2 LockTable: %v", err)
	}
	if err := lm.LockRow(t1, Shared, 1, 5); err != nil {
		t.Fatalf("t1 LockRow: %v", err)
	}
	if err := lm.LockRow(t2, Shared, 1, 5); err != nil {
		t.Fatalf("t2 LockRow: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// t2 still holds the shared row lock, so this upgrade blocks in
		// q.acquire after having already claimed the queue's upgrade slot.
		if err := lm.LockRow(t1, Exclusive, 1, 5); err != nil {
			t.Errorf("t1 upgrade LockRow: %v", err)
		}
	}()

	time.Sleep(50 * time.Millisecond)

	err := lm.LockRow(t2, Exclusive, 1, 5)
	if err == nil {
		t.Fatal("expected t2's concurrent upgrade attempt to be aborted with an upgrade conflict")
	}
	if t2.State() != txn.Aborted {
		t.Errorf("expected t2 to be ABORTED after the conflicting upgrade attempt, got %s", t2.State())
	}

	// Let t1's upgrade complete so the goroutine above can return.
	if err := lm.UnlockRow(t2, 1, 5); err != nil {
		t.Fatalf("t2 UnlockRow: %v", err)
	}
	wg.Wait()

	if !t1.HoldsRow(true, 1, 5) {
		t.Error("expected t1 to hold the exclusive row lock after its upgrade completed")
	}
}

func TestDeadlockDetectorAbortsYoungestInCycle(t *testing.T) {
	txnMgr := txn.NewManager()
	lm := NewManager()
	t1 := txnMgr.Begin(txn.RepeatableRead)
	t2 := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockTable(t1, Exclusive, 1); err != nil {
		t.Fatalf("t1 lock table 1: %v", err)
	}
	if err := lm.LockTable(t2, Exclusive, 2); err != nil {
		t.Fatalf("t2 lock table 2: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := lm.LockTable(t1, Exclusive, 2)
		if err != nil {
			lm.ReleaseAll(t1) // a real caller unwinds all of a victim's locks on abort
		}
		results <- err
	}()
	go func() {
		defer wg.Done()
		err := lm.LockTable(t2, Exclusive, 1)
		if err != nil {
			lm.ReleaseAll(t2)
		}
		results <- err
	}()

	// give both goroutines time to block on each other's queue
	time.Sleep(50 * time.Millisecond)

	detector := NewDeadlockDetector(lm, txnMgr, time.Hour)
	detector.Sweep()

	wg.Wait()
	close(results)

	var sawAbort bool
	for err := range results {
		if err != nil {
			sawAbort = true
		}
	}
	if !sawAbort {
		t.Fatal("expected the deadlock detector to abort one of the two cyclically waiting transactions")
	}
	if t1.State() != txn.Aborted && t2.State() != txn.Aborted {
		t.Error("expected the victim transaction's state to be ABORTED")
	}
	// t2 has the larger id (created second) so it is the youngest and the
	// victim the detector should pick.
	if t1.State() == txn.Aborted {
		t.Error("expected the younger transaction (t2) to be aborted, not t1")
	}
}
