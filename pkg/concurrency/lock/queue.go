package lock

import (
	"sync"

	"storagecore/pkg/common"
	"storagecore/pkg/concurrency/txn"
)

// request is one transaction's granted-or-waiting position in a
// resource's FIFO lock queue.
type request struct {
	txnID   txn.TxnID
	mode    Mode
	granted bool
}

// requestQueue is the FIFO wait/grant queue for a single table or row,
// generalizing the teacher's WaitQueue
// (storemy/pkg/concurrency/lock/queue.go: a page-keyed slice of
// LockRequest, appended to and filtered from on add/remove) into a
// self-contained per-resource queue with its own condition variable
// instead of a page-to-slice map owned by a separate structure.
type requestQueue struct {
	mu         common.Mutex
	cond       *sync.Cond
	requests   []*request
	upgrading  txn.TxnID
	hasUpgrade bool
}

func newRequestQueue() *requestQueue {
	q := &requestQueue{upgrading: 0}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *requestQueue) findLocked(id txn.TxnID) (*request, int) {
	for i, r := range q.requests {
		if r.txnID == id {
			return r, i
		}
	}
	return nil, -1
}

// grantedModesExcept returns the modes of every granted request other
// than the one belonging to excludeID.
func (q *requestQueue) grantedModesExcept(excludeID txn.TxnID) []Mode {
	var modes []Mode
	for _, r := range q.requests {
		if r.granted && r.txnID != excludeID {
			modes = append(modes, r.mode)
		}
	}
	return modes
}

// canGrant reports whether excludeID's request at position idx can be
// granted mode: it must be compatible with every other granted request,
// and every request ahead of idx must already be granted, honoring
// upgrade priority: a pending upgrade always goes first once no
// incompatible granted lock blocks it, and no other request is granted
// while it is pending.
func (q *requestQueue) canGrant(idx int, mode Mode, excludeID txn.TxnID) bool {
	for _, m := range q.grantedModesExcept(excludeID) {
		if !compatible(mode, m) {
			return false
		}
	}
	if q.hasUpgrade {
		return q.upgrading == excludeID
	}
	for i := 0; i < idx; i++ {
		if !q.requests[i].granted {
			return false
		}
	}
	return true
}

func (q *requestQueue) removeLocked(id txn.TxnID) {
	for i, r := range q.requests {
		if r.txnID == id {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// snapshot returns the ids of every transaction with an ungranted
// request (waiting) and of every transaction with a granted one
// (holders); used by the deadlock detector to build wait-for edges.
func (q *requestQueue) snapshot() (waiting, holders []txn.TxnID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.requests {
		if r.granted {
			holders = append(holders, r.txnID)
		} else {
			waiting = append(waiting, r.txnID)
		}
	}
	return waiting, holders
}
