package scheduler

import (
	"sort"
	"time"

	"github.com/jask/ledgersync/internal/database/repository"
)

// Priority is a refresh cadence tier.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}

const (
	freshActivity = 3 * 24 * time.Hour
	staleSync     = 7 * 24 * time.Hour
	recentSync    = 12 * time.Hour
)

// Tier cadences.
const (
	HighInterval   = 30 * time.Minute
	NormalInterval = 6 * time.Hour
	LowInterval    = 24 * time.Hour
)

// NextSyncTime returns when an account of the given priority is next due,
// counting from now.
func NextSyncTime(p Priority, now time.Time) time.Time {
	switch p {
	case PriorityHigh:
		return now.Add(HighInterval)
	case PriorityLow:
		return now.Add(LowInterval)
	default:
		return now.Add(NormalInterval)
	}
}

// Conflict resolutions between a local and a remote copy of a record.
type ConflictResolution string

const (
	UseRemote ConflictResolution = "use_remote"
	UseLocal  ConflictResolution = "use_local"
	MergeBoth ConflictResolution = "merge"
)

// ResolveConflict picks the newer side; equal timestamps defer to the
// reconciler.
func ResolveConflict(local, remote time.Time) ConflictResolution {
	switch {
	case remote.After(local):
		return UseRemote
	case local.After(remote):
		return UseLocal
	default:
		return MergeBoth
	}
}

// Planner assigns priorities and due times.
type Planner struct {
	now func() time.Time
}

// NewPlanner returns a Planner reading the clock from now, or time.Now if nil.
func NewPlanner(now func() time.Time) *Planner {
	if now == nil {
		now = time.Now
	}
	return &Planner{now: now}
}

// DeterminePriority grades an account. lastSyncedAt overrides the account's
// own LastSyncedAt when set.
//
// HIGH: never synced, or activity within 3 days on data older than 7 days.
// LOW: synced within the last 12 hours. NORMAL otherwise.
func (p *Planner) DeterminePriority(acct repository.Account, mostRecentTx, lastSyncedAt *time.Time) Priority {
	last := lastSyncedAt
	if last == nil {
		last = acct.LastSyncedAt
	}
	if last == nil {
		return PriorityHigh
	}
	now := p.now()
	sinceSync := now.Sub(*last)
	if mostRecentTx != nil && now.Sub(*mostRecentTx) <= freshActivity && sinceSync > staleSync {
		return PriorityHigh
	}
	if sinceSync <= recentSync {
		return PriorityLow
	}
	return PriorityNormal
}

// PlanEntry is the schedule of one account.
type PlanEntry struct {
	AccountID    string     `json:"accountId"`
	UserID       string     `json:"userId"`
	Priority     Priority   `json:"priority"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	NextSyncAt   time.Time  `json:"nextSyncAt"`
	Due          bool       `json:"due"`
}

// Plan schedules every syncable account. recent maps account id to its most
// recent transaction date. Manual accounts and expired connections are left
// out. Entries are ordered by priority, then due time.
func (p *Planner) Plan(accounts []repository.Account, recent map[string]time.Time) []PlanEntry {
	now := p.now()
	out := make([]PlanEntry, 0, len(accounts))
	for _, a := range accounts {
		if a.IsManual || a.ConnectionStatus == repository.ConnectionExpired {
			continue
		}
		var latest *time.Time
		if r, ok := recent[a.ID]; ok {
			latest = &r
		}
		prio := p.DeterminePriority(a, latest, nil)
		next := now
		if a.LastSyncedAt != nil {
			next = NextSyncTime(prio, *a.LastSyncedAt)
		}
		out = append(out, PlanEntry{
			AccountID:    a.ID,
			UserID:       a.UserID,
			Priority:     prio,
			LastSyncedAt: a.LastSyncedAt,
			NextSyncAt:   next,
			Due:          !next.After(now),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.rank(), out[j].Priority.rank(); ri != rj {
			return ri < rj
		}
		if !out[i].NextSyncAt.Equal(out[j].NextSyncAt) {
			return out[i].NextSyncAt.Before(out[j].NextSyncAt)
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

// Due filters plan down to the entries due now.
func Due(plan []PlanEntry) []PlanEntry {
	var out []PlanEntry
	for _, e := range plan {
		if e.Due {
			out = append(out, e)
		}
	}
	return out
}
