package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/ledgersync/internal/database"
)

// AccountRepo handles accounts.
type AccountRepo struct {
	db database.DBTX
}

func NewAccountRepo(db database.DBTX) *AccountRepo {
	return &AccountRepo{db: db}
}

// WithTx returns a repo bound to tx.
func (r *AccountRepo) WithTx(tx *sql.Tx) *AccountRepo {
	return &AccountRepo{db: tx}
}

const accountColumns = `id, user_id, name, kind, balance, currency, connection_id, connection_status, is_manual, last_synced_at, created_at, updated_at`

func (r *AccountRepo) Upsert(ctx context.Context, a Account) error {
	if a.Kind == "" {
		a.Kind = KindAsset
	}
	if a.ConnectionStatus == "" {
		a.ConnectionStatus = ConnectionActive
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO accounts(id, user_id, name, kind, balance, currency, connection_id, connection_status, is_manual, last_synced_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
	 user_id=excluded.user_id,
	 name=excluded.name,
	 kind=excluded.kind,
	 currency=excluded.currency,
	 connection_id=excluded.connection_id,
	 connection_status=excluded.connection_status,
	 is_manual=excluded.is_manual,
	 updated_at=CURRENT_TIMESTAMP;
	`, a.ID, a.UserID, a.Name, a.Kind, a.Balance, a.Currency, a.ConnectionID, a.ConnectionStatus, a.IsManual, a.LastSyncedAt)
	return err
}

// Get returns nil when the account does not exist.
func (r *AccountRepo) Get(ctx context.Context, id string) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) List(ctx context.Context) ([]Account, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY user_id, name`)
}

// ListSyncable returns linked accounts whose connection is still active.
func (r *AccountRepo) ListSyncable(ctx context.Context) ([]Account, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE is_manual = 0 AND connection_status = ? ORDER BY user_id, name`, ConnectionActive)
}

func (r *AccountRepo) ListByUser(ctx context.Context, userID string) ([]Account, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY name`, userID)
}

// RecordSync stores the balance and sync time produced by a completed sync.
func (r *AccountRepo) RecordSync(ctx context.Context, id string, balance decimal.Decimal, syncedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE accounts SET balance = ?, last_synced_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, balance, syncedAt.UTC(), id)
	return err
}

func (r *AccountRepo) UpdateConnectionStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE accounts SET connection_status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

// ReactivateConnection marks every linked account of connectionID active
// again and reports how many changed.
func (r *AccountRepo) ReactivateConnection(ctx context.Context, connectionID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET connection_status = ?, updated_at = CURRENT_TIMESTAMP
	WHERE connection_id = ? AND connection_id != '' AND is_manual = 0 AND connection_status != ?`,
		ConnectionActive, connectionID, ConnectionActive)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *AccountRepo) query(ctx context.Context, q string, args ...any) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAccount(row scanner) (Account, error) {
	var a Account
	var synced sql.NullTime
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Kind, &a.Balance, &a.Currency, &a.ConnectionID,
		&a.ConnectionStatus, &a.IsManual, &synced, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, err
	}
	if synced.Valid {
		t := synced.Time.UTC()
		a.LastSyncedAt = &t
	}
	return a, nil
}
