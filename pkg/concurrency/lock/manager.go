package lock

import (
	"storagecore/pkg/common"
	"storagecore/pkg/concurrency/txn"
	"storagecore/pkg/dberrors"
	"storagecore/pkg/observability/dblog"
)

var log = dblog.New("lock")

type rowKey struct {
	table txn.TableID
	row   txn.RowID
}

// Manager grants and releases table and row locks under two-phase
// locking, enforcing the isolation-level acquisition rules and
// growing-to-shrinking state transition of §4.6. A background
// DeadlockDetector (deadlock.go) is the only mechanism that breaks a
// cycle of waiters; Manager itself never times out a wait.
type Manager struct {
	tablesMu common.Mutex
	tables   map[txn.TableID]*requestQueue

	rowsMu common.Mutex
	rows   map[rowKey]*requestQueue
}

// NewManager returns a Manager with no locks held.
func NewManager() *Manager {
	return &Manager{
		tables: make(map[txn.TableID]*requestQueue),
		rows:   make(map[rowKey]*requestQueue),
	}
}

func (m *Manager) tableQueue(table txn.TableID) *requestQueue {
	m.tablesMu.Lock()
	defer m.tablesMu.Unlock()
	q, ok := m.tables[table]
	if !ok {
		q = newRequestQueue()
		m.tables[table] = q
	}
	return q
}

func (m *Manager) rowQueue(table txn.TableID, row txn.RowID) *requestQueue {
	key := rowKey{table, row}
	m.rowsMu.Lock()
	defer m.rowsMu.Unlock()
	q, ok := m.rows[key]
	if !ok {
		q = newRequestQueue()
		m.rows[key] = q
	}
	return q
}

// tableModeSelector maps a Mode to the integer txn.Transaction.tableSetFor
// expects. The two enumerations are defined to already agree, but this
// indirection keeps that assumption in one place.
func tableModeSelector(mode Mode) int { return int(mode) }

// acquire runs the FIFO wait/grant protocol common to table and row
// locking: register (or find) this transaction's request, block on the
// queue's condition variable until it can be granted or the transaction
// is aborted out from under it, then mark it granted.
func (q *requestQueue) acquire(t *txn.Transaction, mode Mode) *dberrors.TransactionAbortedError {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, idx := q.findLocked(t.ID())
	if r == nil {
		r = &request{txnID: t.ID(), mode: mode}
		q.requests = append(q.requests, r)
		idx = len(q.requests) - 1
	} else {
		r.mode = mode
	}

	for {
		if t.State() == txn.Aborted {
			q.removeLocked(t.ID())
			if q.hasUpgrade && q.upgrading == t.ID() {
				q.hasUpgrade = false
			}
			// A removed waiter can be exactly what unblocks the FIFO
			// positions behind it.
			q.cond.Broadcast()
			return dberrors.NewTransactionAbortedError(int64(t.ID()), dberrors.AbortDeadlock)
		}
		// Requests ahead of this one may have been removed while it
		// waited, so its position is looked up afresh on every pass.
		_, idx = q.findLocked(t.ID())
		if q.canGrant(idx, mode, t.ID()) {
			r.granted = true
			if q.hasUpgrade && q.upgrading == t.ID() {
				q.hasUpgrade = false
			}
			// Waking the rest of the queue here, not just on release, matters
			// for FIFO grants: this request becoming granted can be exactly
			// what lets the next request in line pass its own canGrant check.
			q.cond.Broadcast()
			return nil
		}
		q.cond.Wait()
	}
}

// release removes txn's request (granted or not) from the queue and
// wakes every other waiter so they can re-check whether they can now be
// granted.
func (q *requestQueue) release(id txn.TxnID) {
	q.mu.Lock()
	q.removeLocked(id)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// LockTable acquires mode on table for t, blocking until granted,
// aborted by the deadlock detector, or isolation rules reject it
// outright.
func (m *Manager) LockTable(t *txn.Transaction, mode Mode, table txn.TableID) error {
	if err := checkIsolation(t, mode); err != nil {
		t.SetState(txn.Aborted)
		return err
	}

	if t.HoldsTable(tableModeSelector(mode), table) {
		return nil
	}

	for _, held := range []Mode{Shared, Exclusive, IntentionShared, IntentionExclusive, SharedIntentionExclusive} {
		if held == mode || !t.HoldsTable(tableModeSelector(held), table) {
			continue
		}
		if !upgradeAllowed(held, mode) {
			t.SetState(txn.Aborted)
			return dberrors.NewTransactionAbortedError(int64(t.ID()), dberrors.AbortIncompatibleUpgrade)
		}

		q := m.tableQueue(table)
		q.mu.Lock()
		if q.hasUpgrade && q.upgrading != t.ID() {
			q.mu.Unlock()
			t.SetState(txn.Aborted)
			return dberrors.NewTransactionAbortedError(int64(t.ID()), dberrors.AbortUpgradeConflict)
		}
		q.hasUpgrade = true
		q.upgrading = t.ID()
		q.removeLocked(t.ID())
		q.mu.Unlock()

		if err := q.acquire(t, mode); err != nil {
			return err
		}
		t.ReleaseTable(tableModeSelector(held), table)
		t.GrantTable(tableModeSelector(mode), table)
		log.Debugf("txn %d upgraded %s->%s on table %d", t.ID(), held, mode, table)
		return nil
	}

	q := m.tableQueue(table)
	if err := q.acquire(t, mode); err != nil {
		return err
	}
	t.GrantTable(tableModeSelector(mode), table)
	log.Debugf("txn %d granted %s on table %d", t.ID(), mode, table)
	return nil
}

// UnlockTable releases every mode t holds on table. t moves to the
// shrinking phase only when a released mode counts under its isolation
// level (see shrinkingOnRelease): S or X under REPEATABLE_READ, X under
// the other levels; releasing an intention lock never does. Returns an
// error if t has row locks still held on table (rows must be unlocked
// before the table per the specification).
func (m *Manager) UnlockTable(t *txn.Transaction, table txn.TableID) error {
	if t.RowTablesLocked(table) {
		t.SetState(txn.Aborted)
		return dberrors.NewTransactionAbortedError(int64(t.ID()), dberrors.AbortTableUnlockedBeforeRows)
	}

	released := false
	shrink := false
	for _, mode := range []Mode{Shared, Exclusive, IntentionShared, IntentionExclusive, SharedIntentionExclusive} {
		if t.ReleaseTable(tableModeSelector(mode), table) {
			released = true
			if shrinkingOnRelease(t.IsolationLevel(), mode) {
				shrink = true
			}
		}
	}
	if !released {
		t.SetState(txn.Aborted)
		return dberrors.NewTransactionAbortedError(int64(t.ID()), dberrors.AbortAttemptedUnlockButNoLockHeld)
	}

	m.tableQueue(table).release(t.ID())
	if shrink && t.State() == txn.Growing {
		t.SetState(txn.Shrinking)
	}
	log.Debugf("txn %d unlocked table %d", t.ID(), table)
	return nil
}

// LockRow acquires a shared or exclusive row lock, requiring t already
// hold at least an intention lock on the owning table.
func (m *Manager) LockRow(t *txn.Transaction, mode Mode, table txn.TableID, row txn.RowID) error {
	if mode != Shared && mode != Exclusive {
		t.SetState(txn.Aborted)
		return dberrors.NewTransactionAbortedError(int64(t.ID()), dberrors.AbortAttemptedIntentionLockOnRow)
	}
	if !t.HoldsAnyTableLock(table) {
		t.SetState(txn.Aborted)
		return dberrors.NewTransactionAbortedError(int64(t.ID()), dberrors.AbortTableLockNotPresent)
	}
	if err := checkIsolation(t, mode); err != nil {
		t.SetState(txn.Aborted)
		return err
	}

	exclusive := mode == Exclusive
	if t.HoldsRow(exclusive, table, row) {
		return nil
	}

	if mode == Exclusive && t.HoldsRow(false, table, row) {
		q := m.rowQueue(table, row)
		q.mu.Lock()
		if q.hasUpgrade && q.upgrading != t.ID() {
			q.mu.Unlock()
			t.SetState(txn.Aborted)
			return dberrors.NewTransactionAbortedError(int64(t.ID()), dberrors.AbortUpgradeConflict)
		}
		q.hasUpgrade = true
		q.upgrading = t.ID()
		q.removeLocked(t.ID())
		q.mu.Unlock()

		if err := q.acquire(t, mode); err != nil {
			return err
		}
		t.ReleaseRow(false, table, row)
		t.GrantRow(true, table, row)
		log.Debugf("txn %d upgraded S->X on row %d/%d", t.ID(), table, row)
		return nil
	}

	q := m.rowQueue(table, row)
	if err := q.acquire(t, mode); err != nil {
		return err
	}
	t.GrantRow(exclusive, table, row)
	log.Debugf("txn %d granted %s on row %d/%d", t.ID(), mode, table, row)
	return nil
}

// UnlockRow releases a row lock, transitioning t to shrinking under the
// same rule as UnlockTable.
func (m *Manager) UnlockRow(t *txn.Transaction, table txn.TableID, row txn.RowID) error {
	releasedShared := t.ReleaseRow(false, table, row)
	releasedExclusive := t.ReleaseRow(true, table, row)
	if !releasedShared && !releasedExclusive {
		t.SetState(txn.Aborted)
		return dberrors.NewTransactionAbortedError(int64(t.ID()), dberrors.AbortAttemptedUnlockButNoLockHeld)
	}

	m.rowQueue(table, row).release(t.ID())

	level := t.IsolationLevel()
	shrink := (releasedExclusive && shrinkingOnRelease(level, Exclusive)) ||
		(releasedShared && shrinkingOnRelease(level, Shared))
	if shrink && t.State() == txn.Growing {
		t.SetState(txn.Shrinking)
	}
	return nil
}

// WaitForGraph returns the current wait-for graph as an adjacency list:
// for each transaction with an ungranted request on some table or row, the
// ids of the transactions currently holding that resource. Used by the
// deadlock detector to find cycles and by coreinspect to render the live
// graph.
func (m *Manager) WaitForGraph() map[txn.TxnID][]txn.TxnID {
	edges := make(map[txn.TxnID]map[txn.TxnID]struct{})
	addEdges := func(waiting, holders []txn.TxnID) {
		for _, w := range waiting {
			for _, h := range holders {
				if w == h {
					continue
				}
				if edges[w] == nil {
					edges[w] = make(map[txn.TxnID]struct{})
				}
				edges[w][h] = struct{}{}
			}
		}
	}

	m.tablesMu.Lock()
	tableQueues := make([]*requestQueue, 0, len(m.tables))
	for _, q := range m.tables {
		tableQueues = append(tableQueues, q)
	}
	m.tablesMu.Unlock()
	for _, q := range tableQueues {
		addEdges(q.snapshot())
	}

	m.rowsMu.Lock()
	rowQueues := make([]*requestQueue, 0, len(m.rows))
	for _, q := range m.rows {
		rowQueues = append(rowQueues, q)
	}
	m.rowsMu.Unlock()
	for _, q := range rowQueues {
		addEdges(q.snapshot())
	}

	out := make(map[txn.TxnID][]txn.TxnID, len(edges))
	for w, holders := range edges {
		for h := range holders {
			out[w] = append(out[w], h)
		}
	}
	return out
}

// ReleaseAll drops every lock t holds, used when a transaction commits
// or aborts. Unlike UnlockTable/UnlockRow this never itself errors or
// forces a state transition; the caller has already decided t's final
// state.
func (m *Manager) ReleaseAll(t *txn.Transaction) {
	m.tablesMu.Lock()
	tableIDs := make([]txn.TableID, 0, len(m.tables))
	for id := range m.tables {
		tableIDs = append(tableIDs, id)
	}
	m.tablesMu.Unlock()
	for _, table := range tableIDs {
		m.tableQueue(table).release(t.ID())
	}

	m.rowsMu.Lock()
	rowKeys := make([]rowKey, 0, len(m.rows))
	for k := range m.rows {
		rowKeys = append(rowKeys, k)
	}
	m.rowsMu.Unlock()
	for _, k := range rowKeys {
		m.rowQueue(k.table, k.row).release(t.ID())
	}
}
