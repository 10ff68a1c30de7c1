package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jask/ledgersync/internal/database"
	"github.com/jask/ledgersync/internal/database/repository"
	"github.com/jask/ledgersync/internal/logger"
	"github.com/jask/ledgersync/internal/reconcile"
)

// ReconcileService runs reconciliation over stored transactions and applies
// the outcome to their processing metadata.
type ReconcileService struct {
	Ledger *Ledger
}

// Preview reconciles the given records without touching storage.
func (s *ReconcileService) Preview(incoming, existing []repository.Transaction, strategy reconcile.Strategy) (reconcile.BatchResult, error) {
	return s.Ledger.Engine.ReconcileBatch(incoming, existing, strategy)
}

// AccountReport is the outcome of ReconcileAccount.
type AccountReport struct {
	Clusters    []reconcile.DuplicateCluster
	Resolutions []reconcile.Resolution
	Removed     int
	Flagged     int
}

// ReconcileAccount clusters the canonical transactions of accountID dated on
// or after since and applies strategy to every cluster found.
func (s *ReconcileService) ReconcileAccount(ctx context.Context, accountID string, since time.Time, strategy reconcile.Strategy) (AccountReport, error) {
	if _, err := reconcile.ParseStrategy(string(strategy)); err != nil {
		return AccountReport{}, &SyncError{Kind: KindValidation, Err: err}
	}
	txs, err := s.Ledger.Transactions.List(ctx, repository.TransactionFilters{
		AccountID: accountID,
		Status:    repository.StatusCanonical,
		Since:     since,
	})
	if err != nil {
		return AccountReport{}, fmt.Errorf("list transactions: %w", err)
	}

	var rep AccountReport
	rep.Clusters = s.Ledger.Engine.FindDuplicatesInBatch(txs)
	for _, c := range rep.Clusters {
		r, err := reconcile.Resolve(c, strategy)
		if err != nil {
			return AccountReport{}, err
		}
		rep.Resolutions = append(rep.Resolutions, r)
		rep.Removed += len(r.Remove)
		rep.Flagged += len(r.Flag)
	}
	if err := s.apply(ctx, rep.Resolutions); err != nil {
		return AccountReport{}, err
	}
	logger.FromContext(ctx).Info("account reconciled",
		"account_id", accountID, "clusters", len(rep.Clusters), "removed", rep.Removed, "flagged", rep.Flagged)
	return rep, nil
}

// ResolveFlagged settles a cluster that was flagged for review. keepID names
// the member to keep; the rest are removed. An empty keepID means the members
// are not duplicates and all become canonical again.
func (s *ReconcileService) ResolveFlagged(ctx context.Context, clusterID, keepID string) error {
	members, err := s.Ledger.Transactions.List(ctx, repository.TransactionFilters{ClusterID: clusterID})
	if err != nil {
		return fmt.Errorf("list cluster: %w", err)
	}
	if len(members) == 0 {
		return &SyncError{Kind: KindNotFound, Err: fmt.Errorf("cluster %s not found", clusterID)}
	}

	res := reconcile.Resolution{ClusterID: clusterID}
	if keepID == "" {
		for _, m := range members {
			res.Keep = append(res.Keep, m.ID)
		}
		return s.applyDismissed(ctx, res)
	}
	found := false
	for _, m := range members {
		if m.ID == keepID {
			found = true
			res.Keep = append(res.Keep, m.ID)
			continue
		}
		res.Remove = append(res.Remove, m.ID)
	}
	if !found {
		return &SyncError{Kind: KindValidation, Err: fmt.Errorf("transaction %s is not in cluster %s", keepID, clusterID)}
	}
	return s.apply(ctx, []reconcile.Resolution{res})
}

func (s *ReconcileService) apply(ctx context.Context, resolutions []reconcile.Resolution) error {
	return database.WithTx(ctx, s.Ledger.DB, func(tx *sql.Tx) error {
		txs := s.Ledger.Transactions.WithTx(tx)
		for _, r := range resolutions {
			cluster := r.ClusterID
			for _, group := range []struct {
				ids    []string
				status string
			}{
				{r.Keep, repository.StatusCanonical},
				{r.Remove, repository.StatusRemoved},
				{r.Flag, repository.StatusFlagged},
			} {
				for _, id := range group.ids {
					if err := txs.UpdateProcessing(ctx, id, group.status, &cluster); err != nil {
						return fmt.Errorf("update %s: %w", id, err)
					}
				}
			}
		}
		return nil
	})
}

// applyDismissed clears the cluster of records judged distinct.
func (s *ReconcileService) applyDismissed(ctx context.Context, r reconcile.Resolution) error {
	return database.WithTx(ctx, s.Ledger.DB, func(tx *sql.Tx) error {
		txs := s.Ledger.Transactions.WithTx(tx)
		for _, id := range r.Keep {
			if err := txs.UpdateProcessing(ctx, id, repository.StatusCanonical, nil); err != nil {
				return fmt.Errorf("update %s: %w", id, err)
			}
		}
		return nil
	})
}
