package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/ledgersync/internal/database"
	"github.com/jask/ledgersync/internal/database/repository"
	"github.com/jask/ledgersync/internal/logger"
	"github.com/jask/ledgersync/internal/provider"
	"github.com/jask/ledgersync/internal/reconcile"
)

// historyPad widens the stored history loaded for a batch beyond its earliest
// record, covering every date a duplicate could be matched on.
const historyPad = 7 * 24 * time.Hour

// Ledger writes ingested records through reconciliation into storage. Both
// provider syncs and file imports go through it.
type Ledger struct {
	DB           *sql.DB
	Accounts     *repository.AccountRepo
	Transactions *repository.TransactionRepo
	SyncLogs     *repository.SyncLogRepo
	Engine       *reconcile.Engine
}

// NewLedger wires the repositories over db. A nil engine uses the defaults.
func NewLedger(db *sql.DB, engine *reconcile.Engine) *Ledger {
	if engine == nil {
		engine = &reconcile.Engine{}
	}
	return &Ledger{
		DB:           db,
		Accounts:     repository.NewAccountRepo(db),
		Transactions: repository.NewTransactionRepo(db),
		SyncLogs:     repository.NewSyncLogRepo(db),
		Engine:       engine,
	}
}

// IngestResult summarizes one batch. Processed counts valid records, Stored
// the records persisted as canonical or flagged, Duplicates those that were
// not. Errors lists dropped records.
type IngestResult struct {
	Processed  int
	Stored     int
	Duplicates int
	Errors     []string
	Clusters   []reconcile.DuplicateCluster
}

type ingestOptions struct {
	strategy reconcile.Strategy
	// balance, when set, is recorded with syncedAt in the same transaction.
	balance  *decimal.Decimal
	syncedAt time.Time
}

func (l *Ledger) ingest(ctx context.Context, acct repository.Account, raw []provider.Transaction, opts ingestOptions) (IngestResult, error) {
	log := logger.FromContext(ctx)
	var res IngestResult

	valid := make([]repository.Transaction, 0, len(raw))
	for i, r := range raw {
		t, err := normalize(acct, i, r)
		if err != nil {
			log.Warn("dropping invalid record", "error", err)
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		valid = append(valid, t)
	}
	res.Processed = len(valid)

	fresh, known, err := l.dropKnownExternalIDs(ctx, acct.ID, valid)
	if err != nil {
		return res, fmt.Errorf("check external ids: %w", err)
	}
	res.Duplicates = known

	var batch reconcile.BatchResult
	if len(fresh) > 0 {
		history, err := l.Transactions.History(ctx, acct.ID, earliest(fresh).Add(-historyPad))
		if err != nil {
			return res, fmt.Errorf("load history: %w", err)
		}
		batch, err = l.Engine.ReconcileBatch(fresh, history, opts.strategy)
		if err != nil {
			return res, fmt.Errorf("reconcile batch: %w", err)
		}
		res.Duplicates += batch.DuplicatesFound()
		res.Clusters = batch.Duplicates
	}

	toStore := make([]repository.Transaction, 0, len(batch.Canonical)+len(batch.Removed))
	toStore = append(toStore, batch.Canonical...)
	toStore = append(toStore, batch.Removed...)

	stored, raced := 0, 0
	err = database.WithTx(ctx, l.DB, func(tx *sql.Tx) error {
		txs := l.Transactions.WithTx(tx)
		for _, t := range toStore {
			if err := txs.Insert(ctx, t); err != nil {
				// A concurrent writer stored the same external id first.
				if errors.Is(err, repository.ErrDuplicateExternalID) {
					if t.ProcessingStatus != repository.StatusRemoved {
						raced++
					}
					continue
				}
				return fmt.Errorf("insert transaction: %w", err)
			}
			if t.ProcessingStatus != repository.StatusRemoved {
				stored++
			}
		}
		if opts.balance != nil {
			if err := l.Accounts.WithTx(tx).RecordSync(ctx, acct.ID, *opts.balance, opts.syncedAt); err != nil {
				return fmt.Errorf("record sync: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	res.Stored = stored
	res.Duplicates += raced
	log.Info("batch ingested", "processed", res.Processed, "stored", res.Stored, "duplicates", res.Duplicates, "invalid", len(res.Errors))
	return res, nil
}

// dropKnownExternalIDs removes records whose external id is already stored or
// repeated earlier in the batch. It returns the remainder and the number
// dropped.
func (l *Ledger) dropKnownExternalIDs(ctx context.Context, accountID string, txs []repository.Transaction) ([]repository.Transaction, int, error) {
	var ids []string
	for _, t := range txs {
		if t.ExternalID != nil {
			ids = append(ids, *t.ExternalID)
		}
	}
	stored, err := l.Transactions.ExistingExternalIDs(ctx, accountID, ids)
	if err != nil {
		return nil, 0, err
	}
	seen := make(map[string]bool, len(ids))
	out := make([]repository.Transaction, 0, len(txs))
	dropped := 0
	for _, t := range txs {
		if t.ExternalID != nil {
			id := *t.ExternalID
			if stored[id] || seen[id] {
				dropped++
				continue
			}
			seen[id] = true
		}
		out = append(out, t)
	}
	return out, dropped, nil
}

func earliest(txs []repository.Transaction) time.Time {
	first := txs[0].Date
	for _, t := range txs[1:] {
		if t.Date.Before(first) {
			first = t.Date
		}
	}
	return first
}
