// Package reconcile detects duplicate transactions and resolves duplicate
// clusters to a single canonical record. Everything here is pure: callers
// apply the returned keep/remove/flag lists to storage themselves.
package reconcile

import "github.com/google/uuid"

// DefaultMaxBatchSize is the batch size above which clustering switches to the
// date-indexed candidate search.
const DefaultMaxBatchSize = 250

// Engine holds the optional collaborators of the reconciler. The zero value is
// ready to use.
type Engine struct {
	// Cache memoizes fingerprints of stored transactions. Optional.
	Cache *FingerprintCache
	// MaxBatchSize bounds plain all-pairs clustering. Zero means DefaultMaxBatchSize.
	MaxBatchSize int
	// NewID generates cluster ids. Defaults to uuid.NewString.
	NewID func() string
}

func (e *Engine) exact(t txn) string { return e.Cache.Exact(t) }
func (e *Engine) fuzzy(t txn) string { return e.Cache.Fuzzy(t) }

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Engine) maxBatch() int {
	if e.MaxBatchSize > 0 {
		return e.MaxBatchSize
	}
	return DefaultMaxBatchSize
}
