package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/ledgersync/internal/config"
	"github.com/jask/ledgersync/internal/database/repository"
	"github.com/jask/ledgersync/internal/scheduler"
	"github.com/jask/ledgersync/internal/service"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "ledgersync.db")
	cfg.Log.Level = "error"
	cfg.Sync.MaxConcurrent = 3
	cfg.Sync.MaxPerHour = 10
	cfg.Sync.Timeout = 10 * time.Second
	cfg.Sync.Lookback = 7 * 24 * time.Hour
	cfg.Sync.TickInterval = time.Minute
	cfg.Sync.Workers = 2
	cfg.Sync.Strategy = "merge"
	cfg.Sync.MaxBatchSize = 250
	cfg.Sync.FingerprintTTL = time.Minute
	cfg.Provider.Mode = "fake"
	cfg.Secrets.Dir = t.TempDir()
	cfg.Secrets.Passphrase = "test"
	return cfg
}

func TestRunUnknownCommand(t *testing.T) {
	t.Parallel()
	err := run(context.Background(), testConfig(t), "frobnicate", nil)
	require.ErrorContains(t, err, "unknown command")
}

func TestSeedSyncAndPlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)

	require.NoError(t, run(ctx, cfg, "seed", []string{"-users", "1", "-accounts", "3"}))

	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	plan, err := a.scheduler.Plan(ctx)
	require.NoError(t, err)
	require.Len(t, plan, 2)

	rep, err := a.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Succeeded)

	plan, err = a.scheduler.Plan(ctx)
	require.NoError(t, err)
	for _, e := range plan {
		require.Equal(t, scheduler.PriorityLow, e.Priority)
		require.False(t, e.Due)
	}
	out := renderPlan(plan, time.Now())
	require.Contains(t, out, "acct-1-1")
	require.Contains(t, out, "low")
}

func TestResetRequiresConfirmation(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	require.ErrorContains(t, run(context.Background(), cfg, "reset", nil), "-yes")
	require.NoError(t, run(context.Background(), cfg, "reset", []string{"-yes"}))
}

func TestLinkStoresToken(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	require.NoError(t, run(context.Background(), cfg, "link", []string{"-connection", "conn-1", "-token", "abc", "-ttl", "1h"}))
	require.ErrorContains(t, run(context.Background(), cfg, "link", []string{"-token", "abc"}), "-connection")
}

func TestLinkReactivatesExpiredAccounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	require.NoError(t, run(ctx, cfg, "seed", []string{"-users", "1", "-accounts", "2"}))

	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	acct, err := a.ledger.Accounts.Get(ctx, "acct-1-1")
	require.NoError(t, err)
	require.NotEmpty(t, acct.ConnectionID)
	require.NoError(t, a.ledger.Accounts.UpdateConnectionStatus(ctx, acct.ID, repository.ConnectionExpired))
	require.NoError(t, a.Close())

	require.NoError(t, run(ctx, cfg, "link", []string{"-connection", acct.ConnectionID, "-token", "fresh"}))

	a, err = newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()
	acct, err = a.ledger.Accounts.Get(ctx, "acct-1-1")
	require.NoError(t, err)
	require.Equal(t, repository.ConnectionActive, acct.ConnectionStatus)

	res, err := a.sync.RunSync(ctx, acct.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestRenderSyncResult(t *testing.T) {
	t.Parallel()
	out := renderSyncResult(service.SyncResult{AccountID: "a1", Success: true, TransactionsProcessed: 9, Errors: []string{"record 4: bad"}})
	require.Contains(t, out, "sync completed a1")
	require.Contains(t, out, "record 4: bad")

	denied := renderSyncResult(service.SyncResult{Denied: &scheduler.Decision{Reason: scheduler.ReasonInProgress}})
	require.True(t, strings.Contains(denied, scheduler.ReasonInProgress))
}
