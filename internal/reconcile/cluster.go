package reconcile

import (
	"sort"
	"time"

	"github.com/jask/ledgersync/internal/database/repository"
)

// ClusterThreshold is the similarity a record must exceed against a seed to
// join its cluster.
const ClusterThreshold = 0.85

// similarity can only exceed ClusterThreshold when dates are at most this many
// days apart, since the date dimension contributes nothing beyond it.
const clusterWindowDays = 7

// Confidence grades a cluster by its mean similarity to the seed.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func confidenceFor(mean float64) Confidence {
	switch {
	case mean > 0.95:
		return ConfidenceHigh
	case mean > 0.85:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// DuplicateCluster is a group of records judged to be the same real-world
// transaction. Members[0] is the seed.
type DuplicateCluster struct {
	ID             string
	Members        []txn
	Confidence     Confidence
	MeanSimilarity float64
	Reason         string
}

// IDs returns the member ids in cluster order.
func (c DuplicateCluster) IDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ID
	}
	return ids
}

// FindDuplicatesInBatch groups the records of one ingestion batch. Each record,
// in batch order, seeds a cluster of the later unclaimed records scoring above
// ClusterThreshold against it; a claimed record never seeds. The assignment is
// greedy and order dependent.
func (e *Engine) FindDuplicatesInBatch(txs []txn) []DuplicateCluster {
	candidates := e.pairwiseCandidates
	if len(txs) > e.maxBatch() {
		candidates = e.indexedCandidates(txs)
	}

	claimed := make([]bool, len(txs))
	var clusters []DuplicateCluster
	for i := range txs {
		if claimed[i] {
			continue
		}
		members := []txn{txs[i]}
		var total float64
		for _, j := range candidates(txs, i) {
			if claimed[j] {
				continue
			}
			if s := Similarity(txs[i], txs[j]); s > ClusterThreshold {
				members = append(members, txs[j])
				total += s
				claimed[j] = true
			}
		}
		if len(members) < 2 {
			continue
		}
		claimed[i] = true
		mean := total / float64(len(members)-1)
		clusters = append(clusters, DuplicateCluster{
			ID:             e.newID(),
			Members:        members,
			Confidence:     confidenceFor(mean),
			MeanSimilarity: mean,
		})
	}
	return clusters
}

// pairwiseCandidates yields every later record.
func (e *Engine) pairwiseCandidates(txs []txn, i int) []int {
	out := make([]int, 0, len(txs)-i-1)
	for j := i + 1; j < len(txs); j++ {
		out = append(out, j)
	}
	return out
}

// indexedCandidates builds a date index over txs and returns a candidate
// function yielding only later records within the clustering window, in batch
// order. It produces the same clusters as pairwiseCandidates.
func (e *Engine) indexedCandidates(txs []txn) func([]txn, int) []int {
	order := make([]int, len(txs))
	for i := range order {
		order[i] = i
	}
	day := func(i int) time.Time { return repository.DateOnly(txs[i].Date) }
	sort.SliceStable(order, func(a, b int) bool { return day(order[a]).Before(day(order[b])) })

	return func(txs []txn, i int) []int {
		lo := day(i).AddDate(0, 0, -clusterWindowDays)
		hi := day(i).AddDate(0, 0, clusterWindowDays)
		start := sort.Search(len(order), func(k int) bool { return !day(order[k]).Before(lo) })
		var out []int
		for k := start; k < len(order) && !day(order[k]).After(hi); k++ {
			if order[k] > i {
				out = append(out, order[k])
			}
		}
		sort.Ints(out)
		return out
	}
}
