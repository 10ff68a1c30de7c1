package reconcile

import (
	"errors"
	"fmt"

	"github.com/jask/ledgersync/internal/database/repository"
)

// ErrDuplicateID is returned by ReconcileBatch when two records of the batch,
// or a batch record and a history record, share an id.
var ErrDuplicateID = errors.New("duplicate transaction id")

// BatchResult is the outcome of reconciling one ingestion batch.
//
// Canonical holds the incoming records to store, annotated with their
// fingerprint, processing status and cluster id. Removed holds incoming
// records that lost to another incoming record. Known holds incoming records
// that duplicate stored history. Duplicates lists every cluster found,
// including those matched against history (seed = stored record).
type BatchResult struct {
	Canonical   []txn
	Removed     []txn
	Known       []txn
	Duplicates  []DuplicateCluster
	Resolutions []Resolution
}

// DuplicatesFound counts incoming records that did not become canonical.
func (r BatchResult) DuplicatesFound() int {
	return len(r.Removed) + len(r.Known)
}

// ReconcileBatch deduplicates incoming records against existing history and
// against each other. A record matching history is always dropped in favour
// of the stored one; clusters within the batch are resolved with strategy.
func (e *Engine) ReconcileBatch(incoming, existing []txn, strategy Strategy) (BatchResult, error) {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return BatchResult{}, err
	}

	byID := make(map[string]txn, len(existing))
	for _, ex := range existing {
		if _, dup := byID[ex.ID]; dup {
			return BatchResult{}, fmt.Errorf("%w: existing %q", ErrDuplicateID, ex.ID)
		}
		byID[ex.ID] = ex
	}
	seen := make(map[string]bool, len(incoming))
	for _, t := range incoming {
		if _, dup := byID[t.ID]; dup || seen[t.ID] {
			return BatchResult{}, fmt.Errorf("%w: incoming %q", ErrDuplicateID, t.ID)
		}
		seen[t.ID] = true
	}

	var res BatchResult
	fresh := make([]txn, 0, len(incoming))
	for _, t := range incoming {
		check := e.DetectDuplicate(t, existing)
		if !check.IsDuplicate {
			fresh = append(fresh, t)
			continue
		}
		cluster := DuplicateCluster{
			ID:             e.newID(),
			Members:        []txn{byID[check.MatchID], t},
			Confidence:     confidenceFor(check.SimilarityScore),
			MeanSimilarity: check.SimilarityScore,
			Reason:         check.Reason,
		}
		res.Duplicates = append(res.Duplicates, cluster)
		res.Resolutions = append(res.Resolutions, Resolution{
			ClusterID: cluster.ID,
			Keep:      []string{check.MatchID},
			Remove:    []string{t.ID},
		})
		res.Known = append(res.Known, annotate(t, repository.StatusRemoved, cluster.ID))
	}

	clusterOf := make(map[string]string)
	status := make(map[string]string)
	for _, c := range e.FindDuplicatesInBatch(fresh) {
		r, err := Resolve(c, strategy)
		if err != nil {
			return BatchResult{}, err
		}
		res.Duplicates = append(res.Duplicates, c)
		res.Resolutions = append(res.Resolutions, r)
		for _, id := range c.IDs() {
			clusterOf[id] = c.ID
		}
		for _, id := range r.Keep {
			status[id] = repository.StatusCanonical
		}
		for _, id := range r.Remove {
			status[id] = repository.StatusRemoved
		}
		for _, id := range r.Flag {
			status[id] = repository.StatusFlagged
		}
	}

	for _, t := range fresh {
		st, ok := status[t.ID]
		if !ok {
			st = repository.StatusCanonical
		}
		out := annotate(t, st, clusterOf[t.ID])
		if st == repository.StatusRemoved {
			res.Removed = append(res.Removed, out)
			continue
		}
		res.Canonical = append(res.Canonical, out)
	}
	return res, nil
}

func annotate(t txn, status, clusterID string) txn {
	fp := ExactFingerprint(t)
	t.Fingerprint = &fp
	t.ProcessingStatus = status
	t.DuplicateClusterID = nil
	if clusterID != "" {
		id := clusterID
		t.DuplicateClusterID = &id
	}
	return t
}
