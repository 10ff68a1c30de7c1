// Package testdata generates deterministic provider feeds and demo accounts.
package testdata

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/ledgersync/internal/database/repository"
	"github.com/jask/ledgersync/internal/provider"
)

// merchant descriptor variants as different providers and card networks
// report them. The first entry is the clean name.
var merchants = [][]string{
	{"Tesco", "TESCO STORES 2716", "Tesco Ltd"},
	{"Pret A Manger", "PRET A MANGER", "PRET A MANGER LTD"},
	{"Amazon", "AMAZON.CO.UK*2K4", "Amazon EU"},
	{"Uber", "UBER *TRIP", "UBER BV"},
	{"Shell", "SHELL 4021", "Shell UK"},
	{"Spotify", "SPOTIFY", "Spotify AB"},
	{"Boots", "BOOTS 1142", "Boots UK Ltd"},
	{"Greggs", "GREGGS PLC", "Greggs"},
}

var categories = []string{"groceries", "coffee", "shopping", "transport", "fuel", "subscriptions", "health", "food"}

// Options controls a generated feed.
type Options struct {
	Seed uint64
	// Now anchors the feed; records are dated within Days before it.
	Now    time.Time
	Days   int
	PerDay int
	// DuplicateRate is the chance a record is posted a second time with a
	// drifted descriptor and a fresh external id.
	DuplicateRate float64
	// InvalidEvery makes every nth record malformed. Zero disables.
	InvalidEvery int
	Currency     string
}

// DefaultOptions is a two-week feed with some double postings.
func DefaultOptions(now time.Time) Options {
	return Options{Seed: 1, Now: now, Days: 14, PerDay: 3, DuplicateRate: 0.1, Currency: "GBP"}
}

// Feed returns a provider feed for opts. The same options always produce the
// same feed.
func Feed(opts Options) []provider.Transaction {
	r := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	cur := opts.Currency
	if cur == "" {
		cur = "GBP"
	}

	var out []provider.Transaction
	n := 0
	for d := opts.Days - 1; d >= 0; d-- {
		date := opts.Now.UTC().AddDate(0, 0, -d).Format(time.DateOnly)
		for range opts.PerDay {
			n++
			m := r.IntN(len(merchants))
			cents := int64(r.IntN(15000) + 99)
			tx := provider.Transaction{
				ExternalID:   fmt.Sprintf("gen-%d-%05d", opts.Seed, n),
				Amount:       decimal.New(-cents, -2).StringFixed(2),
				Currency:     cur,
				Date:         date,
				MerchantName: merchants[m][0],
				Category:     categories[m],
			}
			if opts.InvalidEvery > 0 && n%opts.InvalidEvery == 0 {
				tx.Amount = "n/a"
			}
			out = append(out, tx)

			if r.Float64() < opts.DuplicateRate {
				dup := tx
				dup.ExternalID = tx.ExternalID + "-repost"
				dup.MerchantName = merchants[m][1+r.IntN(len(merchants[m])-1)]
				dup.Category = ""
				out = append(out, dup)
			}
		}
	}
	return out
}

// SeedAccounts creates users*perUser linked accounts and loads a feed for
// each into fake. Every third account of a user is manual and gets no feed.
func SeedAccounts(ctx context.Context, accounts *repository.AccountRepo, fake *provider.FakeClient, users, perUser int, opts Options) ([]repository.Account, error) {
	currency := opts.Currency
	if currency == "" {
		currency = "GBP"
	}
	var out []repository.Account
	for u := 1; u <= users; u++ {
		for i := 1; i <= perUser; i++ {
			a := repository.Account{
				ID:           fmt.Sprintf("acct-%d-%d", u, i),
				UserID:       fmt.Sprintf("user-%d", u),
				Name:         fmt.Sprintf("Current %d", i),
				Kind:         repository.KindAsset,
				Balance:      decimal.Zero,
				Currency:     currency,
				ConnectionID: fmt.Sprintf("conn-%d-%d", u, i),
				IsManual:     i%3 == 0,
			}
			if a.IsManual {
				a.ConnectionID = ""
			}
			if err := accounts.Upsert(ctx, a); err != nil {
				return nil, fmt.Errorf("seed account %s: %w", a.ID, err)
			}
			out = append(out, a)
		}
	}
	if fake != nil {
		LoadFeeds(fake, out, opts)
	}
	return out, nil
}

// LoadFeeds gives every linked account in accts its own feed. The feed of an
// account depends only on its id and opts, so separate processes serve the
// same data.
func LoadFeeds(fake *provider.FakeClient, accts []repository.Account, opts Options) {
	for _, a := range accts {
		if a.IsManual || a.ConnectionID == "" {
			continue
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(a.ID))
		feedOpts := opts
		feedOpts.Seed = opts.Seed ^ h.Sum64()
		feedOpts.Currency = a.Currency
		feed := Feed(feedOpts)
		fake.SetTransactions(a.ConnectionID, feed)
		fake.SetBalance(a.ConnectionID, balanceOf(feed), a.Currency)
	}
}

// balanceOf sums the parseable amounts of feed.
func balanceOf(feed []provider.Transaction) decimal.Decimal {
	total := decimal.NewFromInt(1000)
	for _, t := range feed {
		if d, err := decimal.NewFromString(t.Amount); err == nil {
			total = total.Add(d)
		}
	}
	return total
}
