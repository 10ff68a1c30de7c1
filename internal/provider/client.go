// Package provider talks to the account-aggregation provider.
package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/ledgersync/internal/database/repository"
)

// Balance is an account's balance as reported by the provider.
type Balance struct {
	Current  decimal.Decimal `json:"current"`
	Currency string          `json:"currency"`
}

// Transaction is a raw record as delivered by the provider. Fields are kept
// as sent; validation happens on ingest.
type Transaction struct {
	ExternalID   string `json:"id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Date         string `json:"date"`
	MerchantName string `json:"merchant_name,omitempty"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
}

// Client fetches account data. Implementations return *Error for failed
// calls.
type Client interface {
	FetchBalance(ctx context.Context, acct repository.Account) (Balance, error)
	// FetchTransactions returns records dated within [from, to]. Nil bounds
	// are open.
	FetchTransactions(ctx context.Context, acct repository.Account, from, to *time.Time) ([]Transaction, error)
}
