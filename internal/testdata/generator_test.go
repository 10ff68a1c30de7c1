package testdata

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/ledgersync/internal/database"
	"github.com/jask/ledgersync/internal/database/repository"
	"github.com/jask/ledgersync/internal/provider"
)

var now = time.Date(2025, 10, 8, 0, 0, 0, 0, time.UTC)

func TestFeedIsDeterministic(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions(now)
	require.Equal(t, Feed(opts), Feed(opts))

	opts2 := opts
	opts2.Seed = 2
	require.NotEqual(t, Feed(opts), Feed(opts2))
}

func TestFeedShape(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions(now)
	opts.DuplicateRate = 0.5
	opts.InvalidEvery = 10
	feed := Feed(opts)

	require.GreaterOrEqual(t, len(feed), opts.Days*opts.PerDay)
	reposts, invalid := 0, 0
	ids := map[string]bool{}
	for _, tx := range feed {
		require.False(t, ids[tx.ExternalID], "external ids are unique")
		ids[tx.ExternalID] = true
		d, err := time.Parse(time.DateOnly, tx.Date)
		require.NoError(t, err)
		require.False(t, d.After(now))
		require.False(t, d.Before(now.AddDate(0, 0, -opts.Days)))
		if strings.HasSuffix(tx.ExternalID, "-repost") {
			reposts++
		}
		if tx.Amount == "n/a" {
			invalid++
		}
	}
	require.Positive(t, reposts)
	require.Equal(t, opts.Days*opts.PerDay/10, invalid-countInvalidReposts(feed))
}

func countInvalidReposts(feed []provider.Transaction) int {
	n := 0
	for _, tx := range feed {
		if tx.Amount == "n/a" && strings.HasSuffix(tx.ExternalID, "-repost") {
			n++
		}
	}
	return n
}

func TestSeedAccounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db))

	repo := repository.NewAccountRepo(db)
	fake := provider.NewFakeClient()
	accts, err := SeedAccounts(ctx, repo, fake, 2, 3, DefaultOptions(now))
	require.NoError(t, err)
	require.Len(t, accts, 6)

	syncable, err := repo.ListSyncable(ctx)
	require.NoError(t, err)
	require.Len(t, syncable, 4)

	for _, a := range syncable {
		txs, err := fake.FetchTransactions(ctx, a, nil, nil)
		require.NoError(t, err)
		require.NotEmpty(t, txs)
		bal, err := fake.FetchBalance(ctx, a)
		require.NoError(t, err)
		require.False(t, bal.Current.IsZero())
	}
}

func TestLoadFeedsIsStablePerAccount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	accts := []repository.Account{
		{ID: "a1", ConnectionID: "c1", Currency: "GBP"},
		{ID: "a2", ConnectionID: "c2", Currency: "EUR"},
		{ID: "cash", IsManual: true, Currency: "GBP"},
	}
	first, second := provider.NewFakeClient(), provider.NewFakeClient()
	LoadFeeds(first, accts, DefaultOptions(now))
	LoadFeeds(second, accts, DefaultOptions(now))

	a1, err := first.FetchTransactions(ctx, accts[0], nil, nil)
	require.NoError(t, err)
	again, err := second.FetchTransactions(ctx, accts[0], nil, nil)
	require.NoError(t, err)
	require.Equal(t, a1, again)

	a2, err := first.FetchTransactions(ctx, accts[1], nil, nil)
	require.NoError(t, err)
	require.NotEqual(t, a1, a2)
	require.Equal(t, "EUR", a2[0].Currency)

	cash, err := first.FetchTransactions(ctx, accts[2], nil, nil)
	require.NoError(t, err)
	require.Empty(t, cash)
}
