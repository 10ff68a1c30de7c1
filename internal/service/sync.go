package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/ledgersync/internal/database/repository"
	"github.com/jask/ledgersync/internal/logger"
	"github.com/jask/ledgersync/internal/provider"
	"github.com/jask/ledgersync/internal/reconcile"
	"github.com/jask/ledgersync/internal/scheduler"
)

// Denial reasons decided before the admission controller is consulted.
const (
	ReasonManualAccount     = "manual accounts are not synced"
	ReasonConnectionExpired = "connection expired, relink required"
)

const (
	defaultSyncTimeout = 2 * time.Minute
	defaultLookback    = 7 * 24 * time.Hour
)

// SyncService runs one provider sync for an account: admission, fetch,
// reconciliation, persistence and the sync log.
type SyncService struct {
	Ledger    *Ledger
	Provider  provider.Client
	Admission *scheduler.Admission
	Planner   *scheduler.Planner
	Strategy  reconcile.Strategy
	// Timeout bounds a whole sync. The admission slot is released either way.
	Timeout time.Duration
	// Lookback re-fetches this far before the last sync to catch late
	// postings.
	Lookback time.Duration
	Now      func() time.Time
}

// SyncResult is the outcome of RunSync.
type SyncResult struct {
	AccountID             string              `json:"accountId"`
	SyncLogID             string              `json:"syncLogId,omitempty"`
	Success               bool                `json:"success"`
	BalanceUpdated        bool                `json:"balanceUpdated"`
	OldBalance            decimal.Decimal     `json:"oldBalance"`
	NewBalance            decimal.Decimal     `json:"newBalance"`
	TransactionsProcessed int                 `json:"transactionsProcessed"`
	TransactionsStored    int                 `json:"transactionsStored"`
	DuplicatesFound       int                 `json:"duplicatesFound"`
	Errors                []string            `json:"errors"`
	Retryable             bool                `json:"retryable,omitempty"`
	NextAttemptAt         *time.Time          `json:"nextAttemptAt,omitempty"`
	Denied                *scheduler.Decision `json:"denied,omitempty"`
}

func (s *SyncService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SyncService) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return defaultSyncTimeout
}

func (s *SyncService) lookback() time.Duration {
	if s.Lookback > 0 {
		return s.Lookback
	}
	return defaultLookback
}

func (s *SyncService) strategy() reconcile.Strategy {
	if s.Strategy != "" {
		return s.Strategy
	}
	return reconcile.Merge
}

// CanSync reports whether accountID may sync now without starting it.
func (s *SyncService) CanSync(ctx context.Context, userID, accountID string) (scheduler.Decision, error) {
	acct, err := s.Ledger.Accounts.Get(ctx, accountID)
	if err != nil {
		return scheduler.Decision{}, &SyncError{Kind: KindInternal, Err: fmt.Errorf("load account: %w", err)}
	}
	if acct == nil || acct.UserID != userID {
		return scheduler.Decision{}, &SyncError{Kind: KindNotFound, Err: fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)}
	}
	if d, ok := precheck(*acct); !ok {
		return d, nil
	}
	return s.Admission.CanSync(ctx, userID, accountID)
}

// Reconnect resumes syncing for the accounts of connectionID after their
// credential has been replaced. It returns how many accounts were expired.
func (s *SyncService) Reconnect(ctx context.Context, connectionID string) (int, error) {
	if strings.TrimSpace(connectionID) == "" {
		return 0, &SyncError{Kind: KindValidation, Err: errors.New("connection id required")}
	}
	n, err := s.Ledger.Accounts.ReactivateConnection(ctx, connectionID)
	if err != nil {
		return 0, &SyncError{Kind: KindInternal, Err: fmt.Errorf("reactivate connection: %w", err)}
	}
	if n > 0 {
		logger.FromContext(ctx).Info("connection reactivated", "connection_id", connectionID, "accounts", n)
	}
	return int(n), nil
}

func precheck(acct repository.Account) (scheduler.Decision, bool) {
	switch {
	case acct.IsManual:
		return scheduler.Decision{Reason: ReasonManualAccount}, false
	case acct.ConnectionStatus == repository.ConnectionExpired:
		return scheduler.Decision{Reason: ReasonConnectionExpired}, false
	}
	return scheduler.Decision{}, true
}

// RunSync syncs accountID. A denied sync returns an error matching
// ErrAdmissionDenied with the decision in SyncResult.Denied and writes no
// sync log. Any started sync writes exactly one sync log and releases its
// admission slot, including on timeout.
func (s *SyncService) RunSync(ctx context.Context, accountID string) (SyncResult, error) {
	res := SyncResult{AccountID: accountID, Errors: []string{}}

	acct, err := s.Ledger.Accounts.Get(ctx, accountID)
	if err != nil {
		return res, &SyncError{Kind: KindInternal, Err: fmt.Errorf("load account: %w", err)}
	}
	if acct == nil {
		return res, &SyncError{Kind: KindNotFound, Err: fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)}
	}
	res.OldBalance, res.NewBalance = acct.Balance, acct.Balance

	decision, ok := precheck(*acct)
	if ok {
		decision, err = s.Admission.Admit(ctx, acct.UserID, acct.ID)
		if err != nil {
			return res, &SyncError{Kind: KindInternal, Err: fmt.Errorf("admit sync: %w", err)}
		}
	}
	if !decision.Allowed {
		res.Denied = &decision
		return res, &SyncError{Kind: KindAdmissionDenied, Err: fmt.Errorf("%w: %s", ErrAdmissionDenied, decision.Reason)}
	}

	ctx = logger.With(ctx, "account_id", acct.ID, "user_id", acct.UserID)
	log := logger.FromContext(ctx)

	outcome := scheduler.OutcomeFailed
	defer func() {
		if err := s.Admission.CompleteSync(context.WithoutCancel(ctx), acct.ID, outcome); err != nil {
			log.Error("release sync slot", "error", err)
		}
	}()

	started := s.now()
	entry := repository.SyncLog{ID: uuid.NewString(), AccountID: acct.ID, StartedAt: started, Status: repository.SyncInProgress}
	if err := s.Ledger.SyncLogs.Create(ctx, entry); err != nil {
		return res, &SyncError{Kind: KindInternal, Err: fmt.Errorf("create sync log: %w", err)}
	}
	res.SyncLogID = entry.ID
	log.Info("sync started", "sync_log_id", entry.ID)

	syncCtx, cancel := context.WithTimeout(ctx, s.timeout())
	ingest, balance, syncErr := s.fetchAndIngest(syncCtx, *acct, started)
	cancel()

	res.TransactionsProcessed = ingest.Processed
	res.TransactionsStored = ingest.Stored
	res.DuplicatesFound = ingest.Duplicates
	res.Errors = append(res.Errors, ingest.Errors...)

	var failure *SyncError
	if syncErr == nil {
		outcome = scheduler.OutcomeCompleted
		entry.Status = repository.SyncCompleted
		res.Success = true
		res.NewBalance = balance
		res.BalanceUpdated = !balance.Equal(acct.Balance)
	} else {
		failure = classify(syncErr)
		entry.Status = repository.SyncFailed
		res.Errors = append(res.Errors, failure.Error())
		s.handleFailure(ctx, *acct, failure, &res)
	}

	finished := s.now()
	entry.CompletedAt = &finished
	entry.TransactionsProcessed = res.TransactionsProcessed
	entry.DuplicatesFound = res.DuplicatesFound
	entry.Errors = res.Errors
	if err := s.Ledger.SyncLogs.Finalize(context.WithoutCancel(ctx), entry); err != nil {
		log.Error("finalize sync log", "error", err)
		if failure == nil {
			return res, &SyncError{Kind: KindInternal, Err: fmt.Errorf("finalize sync log: %w", err)}
		}
	}

	if failure != nil {
		return res, failure
	}
	log.Info("sync completed",
		"processed", res.TransactionsProcessed,
		"stored", res.TransactionsStored,
		"duplicates", res.DuplicatesFound,
		"took", finished.Sub(started))
	return res, nil
}

func (s *SyncService) fetchAndIngest(ctx context.Context, acct repository.Account, now time.Time) (IngestResult, decimal.Decimal, error) {
	bal, err := s.Provider.FetchBalance(ctx, acct)
	if err != nil {
		return IngestResult{}, decimal.Zero, fmt.Errorf("fetch balance: %w", err)
	}

	var from *time.Time
	if acct.LastSyncedAt != nil {
		f := acct.LastSyncedAt.Add(-s.lookback())
		from = &f
	}
	raw, err := s.Provider.FetchTransactions(ctx, acct, from, &now)
	if err != nil {
		return IngestResult{}, decimal.Zero, fmt.Errorf("fetch transactions: %w", err)
	}

	balance := bal.Current.Round(2)
	res, err := s.Ledger.ingest(ctx, acct, raw, ingestOptions{
		strategy: s.strategy(),
		balance:  &balance,
		syncedAt: now,
	})
	if err != nil {
		return res, decimal.Zero, err
	}
	return res, balance, nil
}

// handleFailure applies the side effects of a failed sync: expired
// credentials stop automatic scheduling, transient failures get a retry time.
func (s *SyncService) handleFailure(ctx context.Context, acct repository.Account, failure *SyncError, res *SyncResult) {
	log := logger.FromContext(ctx)
	switch failure.Kind {
	case KindExpiredCredential:
		if err := s.Ledger.Accounts.UpdateConnectionStatus(context.WithoutCancel(ctx), acct.ID, repository.ConnectionExpired); err != nil {
			log.Error("mark connection expired", "error", err)
		}
		log.Warn("provider credential expired", "error", failure.Err)
	case KindTransientProvider:
		res.Retryable = true
		next := s.retryAt(acct, failure)
		res.NextAttemptAt = &next
		log.Warn("sync failed, will retry", "error", failure.Err, "next_attempt_at", next)
	default:
		log.Error("sync failed", "kind", string(failure.Kind), "error", failure.Err)
	}
}

// retryAt is the start of the account's next priority-tier window, pushed
// back to honour a provider Retry-After hint.
func (s *SyncService) retryAt(acct repository.Account, failure *SyncError) time.Time {
	now := s.now()
	prio := scheduler.PriorityNormal
	if s.Planner != nil {
		prio = s.Planner.DeterminePriority(acct, nil, nil)
	}
	next := scheduler.NextSyncTime(prio, now)
	var pe *provider.Error
	if errors.As(failure.Err, &pe) && pe.RetryAfter > 0 {
		if hint := now.Add(pe.RetryAfter); hint.After(next) {
			next = hint
		}
	}
	return next
}
