// Package lock implements multi-granularity locking (IS/IX/S/SIX/X) over
// tables and rows, plus a background deadlock detector. It generalizes
// the teacher's page-granularity, S/X-only `LockManager`
// (storemy/pkg/concurrency/lock/lock.go) to the full lock-mode
// compatibility matrix and isolation-level acquisition rules, and
// replaces its polling-with-backoff wait loop
// (`time.Sleep` retries in `tryAcquireLock`) with blocking
// `sync.Cond` waits woken either by a lock release or by the deadlock
// detector aborting a victim — the redesign the specification calls for:
// no lock-acquisition timeouts, the detector is the sole liveness
// mechanism.
package lock

import (
	"storagecore/pkg/concurrency/txn"
	"storagecore/pkg/dberrors"
)

// Mode is a lock's granularity/strength. The int values double as the
// selector txn.Transaction.tableSetFor expects, so granting or releasing
// a table lock never needs a translation table between the two packages.
type Mode int

const (
	Shared Mode = iota
	Exclusive
	IntentionShared
	IntentionExclusive
	SharedIntentionExclusive
)

func (m Mode) String() string {
	switch m {
	case Shared:
		return "S"
	case Exclusive:
		return "X"
	case IntentionShared:
		return "IS"
	case IntentionExclusive:
		return "IX"
	case SharedIntentionExclusive:
		return "SIX"
	default:
		return "?"
	}
}

// compatible reports whether a and b may be held simultaneously by two
// different transactions on the same resource.
func compatible(a, b Mode) bool {
	// Row locks only ever use Shared/Exclusive; the intention rows of
	// this matrix are simply never consulted for them.
	matrix := [5][5]bool{
		Shared:                   {Shared: true, Exclusive: false, IntentionShared: true, IntentionExclusive: false, SharedIntentionExclusive: false},
		Exclusive:                {Shared: false, Exclusive: false, IntentionShared: false, IntentionExclusive: false, SharedIntentionExclusive: false},
		IntentionShared:          {Shared: true, Exclusive: false, IntentionShared: true, IntentionExclusive: true, SharedIntentionExclusive: true},
		IntentionExclusive:       {Shared: false, Exclusive: false, IntentionShared: true, IntentionExclusive: true, SharedIntentionExclusive: false},
		SharedIntentionExclusive: {Shared: false, Exclusive: false, IntentionShared: true, IntentionExclusive: false, SharedIntentionExclusive: false},
	}
	return matrix[a][b]
}

// upgradeAllowed reports whether a transaction holding from may request
// upgrading to to. Every mode may trivially stay the same (handled by
// the caller before consulting this table).
func upgradeAllowed(from, to Mode) bool {
	switch from {
	case IntentionShared:
		return to == Shared || to == Exclusive || to == IntentionExclusive || to == SharedIntentionExclusive
	case Shared:
		return to == Exclusive || to == SharedIntentionExclusive
	case IntentionExclusive:
		return to == Exclusive || to == SharedIntentionExclusive
	case SharedIntentionExclusive:
		return to == Exclusive
	default:
		return false
	}
}

// shrinkingOnRelease reports whether releasing a lock of mode under level
// moves a transaction from growing to shrinking: REPEATABLE_READ
// transitions on releasing either S or X; READ_COMMITTED and
// READ_UNCOMMITTED only transition on releasing X; intention-only locks
// (IS/IX/SIX) never trigger the transition under any isolation level.
func shrinkingOnRelease(level txn.IsolationLevel, mode Mode) bool {
	switch mode {
	case Exclusive:
		return true
	case Shared:
		return level == txn.RepeatableRead
	default:
		return false
	}
}

// checkIsolation enforces which lock modes a transaction may request
// given its isolation level and current growing/shrinking state, per
// the specification's §4.6 acquisition rules.
func checkIsolation(t *txn.Transaction, mode Mode) *dberrors.TransactionAbortedError {
	level := t.IsolationLevel()
	state := t.State()

	if level == txn.ReadUncommitted && (mode == Shared || mode == IntentionShared || mode == SharedIntentionExclusive) {
		return dberrors.NewTransactionAbortedError(int64(t.ID()), dberrors.AbortLockSharedOnReadUncommitted)
	}

	if state == txn.Shrinking {
		switch level {
		case txn.RepeatableRead:
			return dberrors.NewTransactionAbortedError(int64(t.ID()), dberrors.AbortLockOnShrinking)
		case txn.ReadCommitted:
			if mode != IntentionShared && mode != Shared {
				return dberrors.NewTransactionAbortedError(int64(t.ID()), dberrors.AbortLockOnShrinking)
			}
		case txn.ReadUncommitted:
			return dberrors.NewTransactionAbortedError(int64(t.ID()), dberrors.AbortLockOnShrinking)
		}
	}

	return nil
}
