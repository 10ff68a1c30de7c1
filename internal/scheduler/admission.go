// Package scheduler decides when accounts may sync and how soon they should
// sync again.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jask/ledgersync/internal/logger"
)

// RateWindow is the trailing window MaxSyncsPerHour is counted over.
const RateWindow = time.Hour

// Denial reasons.
const (
	ReasonInProgress      = "sync already in progress"
	ReasonConcurrentLimit = "concurrent syncs limit reached"
	ReasonRateLimited     = "rate limit exceeded"
)

// ErrAlreadySyncing is returned by StartSync when the account is mid-sync.
var ErrAlreadySyncing = errors.New("account is already syncing")

// Policy caps sync admission per user.
type Policy struct {
	MaxConcurrentSyncs int
	MaxSyncsPerHour    int
}

// DefaultPolicy matches the shipped configuration defaults.
var DefaultPolicy = Policy{MaxConcurrentSyncs: 3, MaxSyncsPerHour: 10}

// Decision is the answer to CanSync. RetryAfter is set only for rate-limit
// denials.
type Decision struct {
	Allowed    bool       `json:"allowed"`
	Reason     string     `json:"reason,omitempty"`
	RetryAfter *time.Time `json:"retryAfter,omitempty"`
}

func deny(reason string) Decision { return Decision{Reason: reason} }

// State is the admission state of one account.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
)

// Outcome is how a started sync ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Admission gates sync starts. Safe for concurrent use.
type Admission struct {
	store  AdmissionStore
	policy Policy
	now    func() time.Time

	// mu makes Admit's check and start a single step against this process.
	mu sync.Mutex
}

// NewAdmission returns an Admission over store. A nil now uses time.Now.
func NewAdmission(store AdmissionStore, policy Policy, now func() time.Time) *Admission {
	if now == nil {
		now = time.Now
	}
	return &Admission{store: store, policy: policy, now: now}
}

// Policy returns the configured caps.
func (a *Admission) Policy() Policy { return a.policy }

// CanSync reports whether accountID, owned by userID, may start a sync now.
// Checks run in order: account in progress, user concurrency cap, user rate
// window.
func (a *Admission) CanSync(ctx context.Context, userID, accountID string) (Decision, error) {
	active, err := a.store.IsActive(ctx, accountID)
	if err != nil {
		return Decision{}, fmt.Errorf("check active sync: %w", err)
	}
	if active {
		return deny(ReasonInProgress), nil
	}

	n, err := a.store.ActiveForUser(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("count active syncs: %w", err)
	}
	if n >= a.policy.MaxConcurrentSyncs {
		return deny(ReasonConcurrentLimit), nil
	}

	now := a.now()
	starts, err := a.store.Starts(ctx, userID, now.Add(-RateWindow))
	if err != nil {
		return Decision{}, fmt.Errorf("load sync window: %w", err)
	}
	if len(starts) >= a.policy.MaxSyncsPerHour {
		oldest := starts[0]
		for _, s := range starts[1:] {
			if s.Before(oldest) {
				oldest = s
			}
		}
		retry := oldest.Add(RateWindow)
		d := deny(ReasonRateLimited)
		d.RetryAfter = &retry
		return d, nil
	}
	return Decision{Allowed: true}, nil
}

// StartSync marks accountID as syncing and records the start in the user's
// window. It fails with ErrAlreadySyncing when the account is already active.
func (a *Admission) StartSync(ctx context.Context, userID, accountID string) error {
	added, err := a.store.AddActive(ctx, userID, accountID)
	if err != nil {
		return fmt.Errorf("mark sync active: %w", err)
	}
	if !added {
		return ErrAlreadySyncing
	}
	if err := a.store.AppendStart(ctx, userID, a.now()); err != nil {
		_ = a.store.RemoveActive(ctx, accountID)
		return fmt.Errorf("record sync start: %w", err)
	}
	logger.FromContext(ctx).Debug("sync admitted", "user_id", userID, "account_id", accountID)
	return nil
}

// Admit runs CanSync and, when allowed, StartSync as one step so concurrent
// callers cannot overshoot the caps.
func (a *Admission) Admit(ctx context.Context, userID, accountID string) (Decision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, err := a.CanSync(ctx, userID, accountID)
	if err != nil || !d.Allowed {
		return d, err
	}
	if err := a.StartSync(ctx, userID, accountID); err != nil {
		if errors.Is(err, ErrAlreadySyncing) {
			return deny(ReasonInProgress), nil
		}
		return Decision{}, err
	}
	return d, nil
}

// CompleteSync releases accountID's slot. Unknown accounts are a no-op.
func (a *Admission) CompleteSync(ctx context.Context, accountID string, outcome Outcome) error {
	if err := a.store.RemoveActive(ctx, accountID); err != nil {
		return fmt.Errorf("release sync slot: %w", err)
	}
	logger.FromContext(ctx).Debug("sync released", "account_id", accountID, "outcome", string(outcome))
	return nil
}

// State reports whether accountID is currently syncing.
func (a *Admission) State(ctx context.Context, accountID string) (State, error) {
	active, err := a.store.IsActive(ctx, accountID)
	if err != nil {
		return "", err
	}
	if active {
		return StateSyncing, nil
	}
	return StateIdle, nil
}
