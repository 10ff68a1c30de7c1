package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/ledgersync/internal/database/repository"
	"github.com/jask/ledgersync/internal/reconcile"
)

func (e *testEnv) insert(t *testing.T, accountID, id, amount, merchant string, day int) {
	t.Helper()
	m := merchant
	require.NoError(t, e.ledger.Transactions.Insert(e.ctx, repository.Transaction{
		ID:           id,
		AccountID:    accountID,
		Date:         time.Date(2025, 10, day, 0, 0, 0, 0, time.UTC),
		Amount:       decimal.RequireFromString(amount),
		Currency:     "GBP",
		MerchantName: &m,
	}))
}

func TestReconcileAccount(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	acct := e.account(t, "a1")
	e.insert(t, acct.ID, "t1", "-25.00", "Shell", 3)
	e.insert(t, acct.ID, "t2", "-25.00", "SHELL", 3)
	e.insert(t, acct.ID, "t3", "-80.00", "Argos", 5)

	svc := &ReconcileService{Ledger: e.ledger}
	rep, err := svc.ReconcileAccount(e.ctx, acct.ID, time.Time{}, reconcile.KeepOldest)
	require.NoError(t, err)
	require.Len(t, rep.Clusters, 1)
	require.Equal(t, 1, rep.Removed)
	require.Equal(t, 0, rep.Flagged)

	kept, err := e.ledger.Transactions.Get(e.ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, repository.StatusCanonical, kept.ProcessingStatus)
	require.Equal(t, rep.Clusters[0].ID, *kept.DuplicateClusterID)

	gone, err := e.ledger.Transactions.Get(e.ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, repository.StatusRemoved, gone.ProcessingStatus)

	untouched, err := e.ledger.Transactions.Get(e.ctx, "t3")
	require.NoError(t, err)
	require.Equal(t, repository.StatusCanonical, untouched.ProcessingStatus)
	require.Nil(t, untouched.DuplicateClusterID)

	// A second pass finds nothing left to do.
	rep, err = svc.ReconcileAccount(e.ctx, acct.ID, time.Time{}, reconcile.KeepOldest)
	require.NoError(t, err)
	require.Empty(t, rep.Clusters)
}

func TestReconcileAccountRejectsUnknownStrategy(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	svc := &ReconcileService{Ledger: e.ledger}
	_, err := svc.ReconcileAccount(e.ctx, "a1", time.Time{}, "coin_toss")
	require.Error(t, err)
	require.Equal(t, KindValidation, KindOf(err))
}

func TestResolveFlagged(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	acct := e.account(t, "a1")
	e.insert(t, acct.ID, "t1", "-25.00", "Shell", 3)
	e.insert(t, acct.ID, "t2", "-25.00", "SHELL", 3)
	e.insert(t, acct.ID, "t3", "-9.99", "Netflix", 6)
	e.insert(t, acct.ID, "t4", "-9.99", "Netflix", 6)

	svc := &ReconcileService{Ledger: e.ledger}
	rep, err := svc.ReconcileAccount(e.ctx, acct.ID, time.Time{}, reconcile.Flag)
	require.NoError(t, err)
	require.Len(t, rep.Clusters, 2)
	require.Equal(t, 4, rep.Flagged)
	require.Len(t, e.stored(t, acct.ID, repository.StatusFlagged), 4)

	shell, netflix := rep.Clusters[0].ID, rep.Clusters[1].ID

	require.NoError(t, svc.ResolveFlagged(e.ctx, shell, "t2"))
	t1, err := e.ledger.Transactions.Get(e.ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, repository.StatusRemoved, t1.ProcessingStatus)
	t2, err := e.ledger.Transactions.Get(e.ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, repository.StatusCanonical, t2.ProcessingStatus)

	// Dismissing the cluster restores both members.
	require.NoError(t, svc.ResolveFlagged(e.ctx, netflix, ""))
	for _, id := range []string{"t3", "t4"} {
		tx, err := e.ledger.Transactions.Get(e.ctx, id)
		require.NoError(t, err)
		require.Equal(t, repository.StatusCanonical, tx.ProcessingStatus)
		require.Nil(t, tx.DuplicateClusterID)
	}

	err = svc.ResolveFlagged(e.ctx, "no-such-cluster", "")
	require.Equal(t, KindNotFound, KindOf(err))
	err = svc.ResolveFlagged(e.ctx, shell, "t3")
	require.Equal(t, KindValidation, KindOf(err))
}

func TestPreviewLeavesStorageAlone(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	acct := e.account(t, "a1")
	e.insert(t, acct.ID, "t1", "-25.00", "Shell", 3)
	existing := e.stored(t, acct.ID, "")

	incoming := existing[0]
	incoming.ID = "incoming"
	svc := &ReconcileService{Ledger: e.ledger}
	res, err := svc.Preview([]repository.Transaction{incoming}, existing, reconcile.Merge)
	require.NoError(t, err)
	require.Len(t, res.Known, 1)
	require.Empty(t, res.Canonical)
	require.Len(t, e.stored(t, acct.ID, ""), 1)
}
