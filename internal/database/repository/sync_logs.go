package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jask/ledgersync/internal/database"
)

// ErrSyncLogFinalized is returned when a finalized sync log is written again.
var ErrSyncLogFinalized = errors.New("sync log already finalized")

// SyncLogRepo stores sync audit records. Rows are append-only once finalized.
type SyncLogRepo struct{ db database.DBTX }

func NewSyncLogRepo(db database.DBTX) *SyncLogRepo { return &SyncLogRepo{db: db} }

func (r *SyncLogRepo) Create(ctx context.Context, l SyncLog) error {
	errs, err := encodeErrors(l.Errors)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO sync_logs(id, account_id, started_at, completed_at, status, transactions_processed, duplicates_found, errors)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.AccountID, l.StartedAt.UTC(), l.CompletedAt, l.Status, l.TransactionsProcessed, l.DuplicatesFound, errs)
	return err
}

// Finalize writes the outcome of an in-progress log.
func (r *SyncLogRepo) Finalize(ctx context.Context, l SyncLog) error {
	errs, err := encodeErrors(l.Errors)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
	UPDATE sync_logs SET completed_at = ?, status = ?, transactions_processed = ?, duplicates_found = ?, errors = ?
	WHERE id = ? AND status = ?
	`, l.CompletedAt, l.Status, l.TransactionsProcessed, l.DuplicatesFound, errs, l.ID, SyncInProgress)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("finalize %s: %w", l.ID, ErrSyncLogFinalized)
	}
	return nil
}

func (r *SyncLogRepo) Get(ctx context.Context, id string) (*SyncLog, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, account_id, started_at, completed_at, status, transactions_processed, duplicates_found, errors FROM sync_logs WHERE id = ?`, id)
	l, err := scanSyncLog(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// ListByAccount returns the most recent logs first.
func (r *SyncLogRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, account_id, started_at, completed_at, status, transactions_processed, duplicates_found, errors
	FROM sync_logs WHERE account_id = ? ORDER BY started_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SyncLog
	for rows.Next() {
		l, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanSyncLog(row scanner) (SyncLog, error) {
	var l SyncLog
	var completed sql.NullTime
	var errs string
	if err := row.Scan(&l.ID, &l.AccountID, &l.StartedAt, &completed, &l.Status, &l.TransactionsProcessed, &l.DuplicatesFound, &errs); err != nil {
		return SyncLog{}, err
	}
	if completed.Valid {
		t := completed.Time.UTC()
		l.CompletedAt = &t
	}
	if errs != "" {
		if err := json.Unmarshal([]byte(errs), &l.Errors); err != nil {
			return SyncLog{}, fmt.Errorf("decode sync log errors: %w", err)
		}
	}
	return l, nil
}

func encodeErrors(errs []string) (string, error) {
	if errs == nil {
		errs = []string{}
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("encode sync log errors: %w", err)
	}
	return string(b), nil
}
