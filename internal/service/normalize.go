package service

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/ledgersync/internal/database/repository"
	"github.com/jask/ledgersync/internal/provider"
)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// Amounts are stored as int64 cents.
var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2/01/2006",
}

// normalize validates a raw record and converts it into a transaction of
// acct. An empty currency inherits the account's.
func normalize(acct repository.Account, index int, raw provider.Transaction) (repository.Transaction, error) {
	invalid := func(field, value, reason string) error {
		return &ValidationError{Index: index, ExternalID: raw.ExternalID, Field: field, Value: value, Reason: reason}
	}

	amountStr := strings.ReplaceAll(strings.TrimSpace(raw.Amount), ",", "")
	if amountStr == "" {
		return repository.Transaction{}, invalid("amount", raw.Amount, "missing")
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return repository.Transaction{}, invalid("amount", raw.Amount, "not a number")
	}
	amount = amount.Round(2)
	if cents := amount.Shift(2); cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return repository.Transaction{}, invalid("amount", raw.Amount, "out of range")
	}

	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if currency == "" {
		currency = strings.ToUpper(acct.Currency)
	}
	if !currencyCode.MatchString(currency) {
		return repository.Transaction{}, invalid("currency", raw.Currency, "not a 3-letter code")
	}

	date, err := parseDate(raw.Date)
	if err != nil {
		return repository.Transaction{}, invalid("date", raw.Date, "unrecognised date")
	}

	category := strings.TrimSpace(raw.Category)
	if category == "" {
		category = repository.Uncategorized
	}
	return repository.Transaction{
		ID:               uuid.NewString(),
		AccountID:        acct.ID,
		ExternalID:       nullableStr(raw.ExternalID),
		Date:             date,
		Amount:           amount,
		Currency:         currency,
		MerchantName:     nullableStr(raw.MerchantName),
		Description:      nullableStr(raw.Description),
		Category:         category,
		ProcessingStatus: repository.StatusCanonical,
	}, nil
}

// parseDate accepts the date formats providers and bank exports use and
// truncates to the calendar day. The zero date is rejected.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil && !t.IsZero() {
			return repository.DateOnly(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func nullableStr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
