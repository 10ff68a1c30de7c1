package reconcile

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/jask/ledgersync/internal/database/repository"
)

// Dimension weights, summing to 1.
const (
	weightAmount      = 0.4
	weightDate        = 0.3
	weightMerchant    = 0.2
	weightDescription = 0.1
)

var two = decimal.NewFromInt(2)

// Similarity scores how likely a and b describe the same real-world
// transaction, in [0,1]. Scores are rounded to four decimal places so
// threshold comparisons are not at the mercy of float summation order.
func Similarity(a, b repository.Transaction) float64 {
	score := weightAmount*amountSimilarity(a.Amount, b.Amount) +
		weightDate*dateSimilarity(a.Date, b.Date) +
		weightMerchant*textSimilarity(deref(a.MerchantName), deref(b.MerchantName)) +
		weightDescription*textSimilarity(deref(a.Description), deref(b.Description))
	return math.Round(score*1e4) / 1e4
}

// amountSimilarity is 1 minus the absolute difference relative to the mean,
// floored at 0. Two zero amounts are identical.
func amountSimilarity(a, b decimal.Decimal) float64 {
	x, y := a.Abs(), b.Abs()
	avg := x.Add(y).Div(two)
	if avg.IsZero() {
		return 1
	}
	ratio, _ := x.Sub(y).Abs().Div(avg).Float64()
	return 1 - math.Min(ratio, 1)
}

func dateSimilarity(a, b time.Time) float64 {
	switch d := daysApart(a, b); {
	case d == 0:
		return 1.0
	case d <= 1:
		return 0.9
	case d <= 3:
		return 0.7
	case d <= 7:
		return 0.5
	default:
		return 0
	}
}

// textSimilarity is the normalized Levenshtein similarity of the trimmed,
// lower-cased inputs.
func textSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

// daysApart counts whole calendar days between the dates of a and b.
func daysApart(a, b time.Time) int {
	d := repository.DateOnly(a).Sub(repository.DateOnly(b))
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}
