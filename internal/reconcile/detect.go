package reconcile

import "github.com/jask/ledgersync/internal/database/repository"

type txn = repository.Transaction

// Thresholds for the single-record check.
const (
	fuzzyKeyThreshold = 0.85
	windowThreshold   = 0.9
	windowDays        = 3
)

// Match reasons.
const (
	ReasonExactMatch  = "exact match"
	ReasonFuzzyKey    = "high similarity, same fuzzy key"
	ReasonWindowMatch = "very high similarity within window"
)

// DuplicateCheck is the outcome of DetectDuplicate. MatchID names the
// existing record that was matched.
type DuplicateCheck struct {
	IsDuplicate     bool
	SimilarityScore float64
	MatchID         string
	Reason          string
}

// DetectDuplicate checks a new record against existing ones. Checks run in
// order of cost and the first match wins: exact fingerprint, fuzzy
// fingerprint above 0.85 similarity, then a ±3 day window above 0.9.
func (e *Engine) DetectDuplicate(t txn, existing []txn) DuplicateCheck {
	exact := e.exact(t)
	for _, ex := range existing {
		if sameRecord(t, ex) {
			continue
		}
		if e.exact(ex) == exact {
			return DuplicateCheck{IsDuplicate: true, SimilarityScore: 1.0, MatchID: ex.ID, Reason: ReasonExactMatch}
		}
	}

	fuzzy := e.fuzzy(t)
	for _, ex := range existing {
		if sameRecord(t, ex) || e.fuzzy(ex) != fuzzy {
			continue
		}
		if s := Similarity(t, ex); s > fuzzyKeyThreshold {
			return DuplicateCheck{IsDuplicate: true, SimilarityScore: s, MatchID: ex.ID, Reason: ReasonFuzzyKey}
		}
	}

	for _, ex := range existing {
		if sameRecord(t, ex) || daysApart(t.Date, ex.Date) > windowDays {
			continue
		}
		if s := Similarity(t, ex); s > windowThreshold {
			return DuplicateCheck{IsDuplicate: true, SimilarityScore: s, MatchID: ex.ID, Reason: ReasonWindowMatch}
		}
	}
	return DuplicateCheck{}
}

func sameRecord(a, b txn) bool {
	return a.ID != "" && a.ID == b.ID
}
