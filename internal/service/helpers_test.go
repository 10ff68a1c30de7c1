package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/ledgersync/internal/database"
	"github.com/jask/ledgersync/internal/database/repository"
	"github.com/jask/ledgersync/internal/provider"
	"github.com/jask/ledgersync/internal/reconcile"
	"github.com/jask/ledgersync/internal/scheduler"
)

var testNow = time.Date(2025, 10, 8, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	ctx       context.Context
	ledger    *Ledger
	fake      *provider.FakeClient
	admission *scheduler.Admission
	sync      *SyncService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db))

	clock := func() time.Time { return testNow }
	ledger := NewLedger(db, &reconcile.Engine{})
	fake := provider.NewFakeClient()
	admission := scheduler.NewAdmission(scheduler.NewMemoryStore(), scheduler.DefaultPolicy, clock)
	return &testEnv{
		ctx:       ctx,
		ledger:    ledger,
		fake:      fake,
		admission: admission,
		sync: &SyncService{
			Ledger:    ledger,
			Provider:  fake,
			Admission: admission,
			Planner:   scheduler.NewPlanner(clock),
			Strategy:  reconcile.Merge,
			Timeout:   5 * time.Second,
			Now:       clock,
		},
	}
}

func (e *testEnv) account(t *testing.T, id string, opts ...func(*repository.Account)) repository.Account {
	t.Helper()
	a := repository.Account{
		ID:           id,
		UserID:       "user-1",
		Name:         "Account " + id,
		Kind:         repository.KindAsset,
		Balance:      decimal.Zero,
		Currency:     "GBP",
		ConnectionID: "conn-" + id,
	}
	for _, o := range opts {
		o(&a)
	}
	require.NoError(t, e.ledger.Accounts.Upsert(e.ctx, a))
	return a
}

var feedMerchants = []string{"Tesco", "Pret", "Shell", "Uber", "Amazon", "Boots", "Greggs", "Netflix", "Spotify", "Argos"}

// distinctFeed returns n records that never resemble each other.
func distinctFeed(n int) []provider.Transaction {
	out := make([]provider.Transaction, n)
	for i := range n {
		out[i] = provider.Transaction{
			ExternalID:   fmt.Sprintf("ext-%d", i),
			Amount:       fmt.Sprintf("-%d.50", 10*(i+1)),
			Currency:     "GBP",
			Date:         time.Date(2025, 10, 1+i%7, 0, 0, 0, 0, time.UTC).Format(time.DateOnly),
			MerchantName: feedMerchants[i%len(feedMerchants)],
		}
	}
	return out
}

func (e *testEnv) stored(t *testing.T, accountID, status string) []repository.Transaction {
	t.Helper()
	txs, err := e.ledger.Transactions.List(e.ctx, repository.TransactionFilters{AccountID: accountID, Status: status})
	require.NoError(t, err)
	return txs
}
