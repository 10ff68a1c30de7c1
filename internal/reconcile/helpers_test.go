package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/ledgersync/internal/database/repository"
)

func str(s string) *string { return &s }

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

func mkTx(t *testing.T, id, amount, date, merchant string) repository.Transaction {
	t.Helper()
	tx := repository.Transaction{
		ID:        id,
		AccountID: "acct-1",
		Amount:    decimal.RequireFromString(amount),
		Currency:  "GBP",
		Date:      day(t, date),
		Category:  repository.Uncategorized,
	}
	if merchant != "" {
		tx.MerchantName = str(merchant)
	}
	return tx
}
