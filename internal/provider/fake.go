package provider

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/ledgersync/internal/database/repository"
)

// FakeClient serves canned data per connection. Safe for concurrent use.
type FakeClient struct {
	mu       sync.Mutex
	balances map[string]Balance
	txs      map[string][]Transaction
	errs     map[string]error
	calls    map[string]int
	// Delay holds every call for the given duration, honouring ctx.
	Delay time.Duration
}

var _ Client = (*FakeClient)(nil)

func NewFakeClient() *FakeClient {
	return &FakeClient{
		balances: map[string]Balance{},
		txs:      map[string][]Transaction{},
		errs:     map[string]error{},
		calls:    map[string]int{},
	}
}

func (f *FakeClient) SetBalance(connectionID string, current decimal.Decimal, currency string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[connectionID] = Balance{Current: current, Currency: currency}
}

func (f *FakeClient) SetTransactions(connectionID string, txs []Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[connectionID] = append([]Transaction(nil), txs...)
}

// Fail makes every call for connectionID return err. A nil err clears it.
func (f *FakeClient) Fail(connectionID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, connectionID)
		return
	}
	f.errs[connectionID] = err
}

// Calls reports how many calls reached connectionID.
func (f *FakeClient) Calls(connectionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[connectionID]
}

func (f *FakeClient) FetchBalance(ctx context.Context, acct repository.Account) (Balance, error) {
	if err := f.enter(ctx, acct.ConnectionID); err != nil {
		return Balance{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[acct.ConnectionID]
	if !ok {
		return Balance{Current: acct.Balance, Currency: acct.Currency}, nil
	}
	return b, nil
}

// FetchTransactions filters by date when a record's date parses; malformed
// dates are passed through for the caller to reject.
func (f *FakeClient) FetchTransactions(ctx context.Context, acct repository.Account, from, to *time.Time) ([]Transaction, error) {
	if err := f.enter(ctx, acct.ConnectionID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Transaction
	for _, t := range f.txs[acct.ConnectionID] {
		if d, err := time.Parse(time.DateOnly, t.Date); err == nil {
			if from != nil && d.Before(repository.DateOnly(*from)) {
				continue
			}
			if to != nil && d.After(repository.DateOnly(*to)) {
				continue
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *FakeClient) enter(ctx context.Context, connectionID string) error {
	f.mu.Lock()
	f.calls[connectionID]++
	err := f.errs[connectionID]
	delay := f.Delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
