package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jask/ledgersync/internal/database/repository"
)

// Strategy selects how a cluster is resolved.
type Strategy string

const (
	KeepLatest Strategy = "keep_latest"
	KeepOldest Strategy = "keep_oldest"
	Merge      Strategy = "merge"
	Flag       Strategy = "flag"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case KeepLatest, KeepOldest, Merge, Flag:
		return st, nil
	default:
		return "", fmt.Errorf("unknown resolution strategy %q", s)
	}
}

// Resolution lists the ids to keep, remove and flag for manual review.
type Resolution struct {
	ClusterID string
	Keep      []string
	Remove    []string
	Flag      []string
}

// Resolve picks the canonical member of c according to strategy.
func Resolve(c DuplicateCluster, strategy Strategy) (Resolution, error) {
	res := Resolution{ClusterID: c.ID}
	if len(c.Members) == 0 {
		return res, nil
	}

	ordered := make([]txn, len(c.Members))
	copy(ordered, c.Members)

	switch strategy {
	case KeepLatest:
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Date.After(ordered[j].Date) })
	case KeepOldest:
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Date.Before(ordered[j].Date) })
	case Merge:
		sort.SliceStable(ordered, func(i, j int) bool { return completeness(ordered[i]) > completeness(ordered[j]) })
	case Flag:
		res.Flag = c.IDs()
		return res, nil
	default:
		return Resolution{}, fmt.Errorf("unknown resolution strategy %q", strategy)
	}

	res.Keep = []string{ordered[0].ID}
	for _, m := range ordered[1:] {
		res.Remove = append(res.Remove, m.ID)
	}
	return res, nil
}

// completeness scores how much information a record carries.
func completeness(t txn) int {
	score := 0
	if strings.TrimSpace(deref(t.MerchantName)) != "" {
		score += 2
	}
	if c := strings.TrimSpace(t.Category); c != "" && !strings.EqualFold(c, repository.Uncategorized) {
		score++
	}
	if strings.TrimSpace(deref(t.Description)) != "" {
		score++
	}
	if strings.TrimSpace(deref(t.ExternalID)) != "" {
		score++
	}
	return score
}
