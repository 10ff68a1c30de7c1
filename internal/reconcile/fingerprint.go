package reconcile

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jask/ledgersync/internal/database/repository"
)

const unknownMerchant = "unknown"

var nonLetters = regexp.MustCompile(`[^a-z\s]+`)

// noiseWords are dropped by SimplifyMerchant. Corporate suffixes plus the
// generic store words providers append to card descriptors.
var noiseWords = map[string]struct{}{
	"ltd":     {},
	"limited": {},
	"plc":     {},
	"inc":     {},
	"llc":     {},
	"corp":    {},
	"co":      {},
	"store":   {},
	"stores":  {},
}

// ExactFingerprint hashes the amount to the cent, the date, the trimmed
// lower-cased merchant and the currency.
func ExactFingerprint(t repository.Transaction) string {
	merchant := unknownMerchant
	if m := strings.TrimSpace(deref(t.MerchantName)); m != "" {
		merchant = strings.ToLower(m)
	}
	return hashParts(
		t.Amount.Abs().StringFixed(2),
		dateKey(t.Date),
		merchant,
		strings.ToUpper(strings.TrimSpace(t.Currency)),
	)
}

// FuzzyFingerprint hashes the amount rounded to a whole unit, the date and the
// simplified merchant name. It absorbs descriptor drift such as
// "TESCO STORES 2716" vs "Tesco".
func FuzzyFingerprint(t repository.Transaction) string {
	merchant := deref(t.MerchantName)
	if strings.TrimSpace(merchant) == "" {
		merchant = unknownMerchant
	}
	return hashParts(
		t.Amount.Abs().Round(0).StringFixed(0),
		dateKey(t.Date),
		SimplifyMerchant(merchant),
	)
}

// SimplifyMerchant lower-cases name, strips everything except letters and
// whitespace, collapses whitespace and removes corporate suffixes.
func SimplifyMerchant(name string) string {
	s := nonLetters.ReplaceAllString(strings.ToLower(name), "")
	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		if _, noise := noiseWords[f]; noise {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

func hashParts(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", sum[:])
}

func dateKey(t time.Time) string {
	return repository.DateOnly(t).Format(time.DateOnly)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// FingerprintCache memoizes fingerprints of persisted transactions by id.
// Stored transactions are immutable, so an id always maps to the same keys.
type FingerprintCache struct {
	c *cache.Cache
}

func NewFingerprintCache(ttl time.Duration) *FingerprintCache {
	return &FingerprintCache{c: cache.New(ttl, 2*ttl)}
}

// Exact returns the exact fingerprint of t, cached when t has an id.
func (f *FingerprintCache) Exact(t repository.Transaction) string {
	return f.lookup("exact:", t, ExactFingerprint)
}

// Fuzzy returns the fuzzy fingerprint of t, cached when t has an id.
func (f *FingerprintCache) Fuzzy(t repository.Transaction) string {
	return f.lookup("fuzzy:", t, FuzzyFingerprint)
}

// Len reports the number of cached entries.
func (f *FingerprintCache) Len() int {
	if f == nil {
		return 0
	}
	return f.c.ItemCount()
}

func (f *FingerprintCache) lookup(prefix string, t repository.Transaction, compute func(repository.Transaction) string) string {
	if f == nil || t.ID == "" {
		return compute(t)
	}
	key := prefix + t.ID
	if v, ok := f.c.Get(key); ok {
		return v.(string)
	}
	fp := compute(t)
	f.c.SetDefault(key, fp)
	return fp
}
