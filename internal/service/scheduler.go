package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jask/ledgersync/internal/logger"
	"github.com/jask/ledgersync/internal/scheduler"
)

// Scheduler periodically plans every syncable account and runs the due ones.
type Scheduler struct {
	Sync    *SyncService
	Planner *scheduler.Planner
	// Tick is the planning interval of Run.
	Tick time.Duration
	// Workers bounds concurrent syncs within one tick. Admission still
	// applies per user.
	Workers int
}

// TickReport summarizes one scheduling pass.
type TickReport struct {
	Planned   int
	Due       int
	Succeeded int
	Failed    int
	Denied    int
}

// Plan schedules every syncable account.
func (s *Scheduler) Plan(ctx context.Context) ([]scheduler.PlanEntry, error) {
	accounts, err := s.Sync.Ledger.Accounts.ListSyncable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	recent, err := s.Sync.Ledger.Transactions.LatestDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest transaction dates: %w", err)
	}
	return s.Planner.Plan(accounts, recent), nil
}

// RunOnce syncs every account that is due, highest priority first. Failed
// and denied syncs are counted, not returned; only planning errors are.
func (s *Scheduler) RunOnce(ctx context.Context) (TickReport, error) {
	plan, err := s.Plan(ctx)
	if err != nil {
		return TickReport{}, err
	}
	due := scheduler.Due(plan)
	rep := TickReport{Planned: len(plan), Due: len(due)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Workers, 1))
	for _, e := range due {
		g.Go(func() error {
			ctx := logger.With(gctx, "priority", string(e.Priority))
			_, err := s.Sync.RunSync(ctx, e.AccountID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				rep.Succeeded++
			case errors.Is(err, ErrAdmissionDenied):
				rep.Denied++
				logger.FromContext(ctx).Debug("sync not admitted", "account_id", e.AccountID, "error", err)
			default:
				rep.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return rep, ctx.Err()
}

// Run ticks until ctx is cancelled. The first pass runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	tick := s.Tick
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	log := logger.FromContext(ctx)
	for {
		rep, err := s.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("scheduling pass failed", "error", err)
		} else if rep.Due > 0 {
			log.Info("scheduling pass", "planned", rep.Planned, "due", rep.Due,
				"succeeded", rep.Succeeded, "failed", rep.Failed, "denied", rep.Denied)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
