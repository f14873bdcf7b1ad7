package lock

import (
	"testing"

	"storagecore/pkg/concurrency/txn"
)

func TestCompatibilityMatrix(t *testing.T) {
	cases := []struct {
		a, b Mode
		want bool
	}{
		{Shared, Shared, true},
		{Shared, Exclusive, false},
		{Exclusive, Exclusive, false},
		{IntentionShared, IntentionShared, true},
		{IntentionShared, IntentionExclusive, true},
		{IntentionExclusive, IntentionExclusive, true},
		{IntentionExclusive, Shared, false},
		{SharedIntentionExclusive, IntentionShared, true},
		{SharedIntentionExclusive, IntentionExclusive, false},
		{SharedIntentionExclusive, SharedIntentionExclusive, false},
	}
	for _, c := range cases {
		if got := compatible(c.a, c.b); got != c.want {
			t.Errorf("compatible(%s, %s) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestUpgradeAllowed(t *testing.T) {
	if !upgradeAllowed(IntentionShared, SharedIntentionExclusive) {
		t.Error("IS -> SIX should be allowed")
	}
	if !upgradeAllowed(Shared, Exclusive) {
		t.Error("S -> X should be allowed")
	}
	if upgradeAllowed(Shared, IntentionShared) {
		t.Error("S -> IS should not be allowed")
	}
	if upgradeAllowed(Exclusive, Shared) {
		t.Error("X -> S should never be allowed")
	}
}

func TestCheckIsolationReadUncommittedRejectsShared(t *testing.T) {
	tr := newTestTxn(txn.ReadUncommitted)
	if err := checkIsolation(tr, Shared); err == nil {
		t.Fatal("expected READ_UNCOMMITTED to reject a shared lock request")
	}
	if err := checkIsolation(tr, Exclusive); err != nil {
		t.Errorf("READ_UNCOMMITTED should allow exclusive locks, got %v", err)
	}
}

func TestCheckIsolationShrinkingRepeatableReadRejectsEverything(t *testing.T) {
	tr := newTestTxn(txn.RepeatableRead)
	tr.SetState(txn.Shrinking)
	if err := checkIsolation(tr, Shared); err == nil {
		t.Error("REPEATABLE_READ should reject any new lock once shrinking")
	}
}

func TestCheckIsolationShrinkingReadCommittedAllowsShared(t *testing.T) {
	tr := newTestTxn(txn.ReadCommitted)
	tr.SetState(txn.Shrinking)
	if err := checkIsolation(tr, Shared); err != nil {
		t.Errorf("READ_COMMITTED should allow acquiring shared locks while shrinking, got %v", err)
	}
	if err := checkIsolation(tr, Exclusive); err == nil {
		t.Error("READ_COMMITTED should reject exclusive locks while shrinking")
	}
}

// --- small helper shared by this file's tests ---

func newTestTxn(level txn.IsolationLevel) *txn.Transaction {
	mgr := txn.NewManager()
	return mgr.Begin(level)
}
