package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/jask/ledgersync/internal/database"
)

// ErrDuplicateExternalID is returned by Insert when the account already holds
// a transaction with the same external identifier.
var ErrDuplicateExternalID = errors.New("transaction with external id already stored")

// TransactionFilters defines list filters.
type TransactionFilters struct {
	AccountID string
	Status    string
	Since     time.Time // zero = no lower bound
	ClusterID string
}

// TransactionRepo handles transactions.
type TransactionRepo struct {
	db database.DBTX
}

func NewTransactionRepo(db database.DBTX) *TransactionRepo { return &TransactionRepo{db: db} }

// WithTx returns a repo bound to tx.
func (r *TransactionRepo) WithTx(tx *sql.Tx) *TransactionRepo { return &TransactionRepo{db: tx} }

const transactionColumns = `id, account_id, external_id, date, amount, currency, merchant_name, description, category, fingerprint, duplicate_cluster_id, processing_status, created_at, updated_at`

func (r *TransactionRepo) Insert(ctx context.Context, t Transaction) error {
	if t.ProcessingStatus == "" {
		t.ProcessingStatus = StatusCanonical
	}
	if t.Category == "" {
		t.Category = Uncategorized
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO transactions(
	 id, account_id, external_id, date, amount, currency, merchant_name, description,
	 category, fingerprint, duplicate_cluster_id, processing_status, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		t.ID, t.AccountID, t.ExternalID, DateOnly(t.Date), toCents(t.Amount), t.Currency, t.MerchantName,
		t.Description, t.Category, t.Fingerprint, t.DuplicateClusterID, t.ProcessingStatus)
	if isExternalIDConflict(err) {
		return ErrDuplicateExternalID
	}
	return err
}

// isExternalIDConflict matches violations of the (account_id, external_id)
// unique index only. Primary key collisions carry a different extended code.
func isExternalIDConflict(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return strings.Contains(se.Error(), "transactions.external_id")
}

// UpdateProcessing rewrites the reconciliation metadata of one transaction.
func (r *TransactionRepo) UpdateProcessing(ctx context.Context, id, status string, clusterID *string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE transactions SET processing_status = ?, duplicate_cluster_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, clusterID, id)
	return err
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilters) ([]Transaction, error) {
	var where []string
	var args []any

	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Status != "" {
		where = append(where, "processing_status = ?")
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, DateOnly(f.Since))
	}
	if f.ClusterID != "" {
		where = append(where, "duplicate_cluster_id = ?")
		args = append(args, f.ClusterID)
	}

	query := "SELECT " + transactionColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date ASC, created_at ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// History returns the non-removed transactions of an account dated on or
// after since. These are the records new ingests are checked against.
func (r *TransactionRepo) History(ctx context.Context, accountID string, since time.Time) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions
	WHERE account_id = ? AND date >= ? AND processing_status != ?
	ORDER BY date ASC, created_at ASC, id ASC`, accountID, DateOnly(since), StatusRemoved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LatestDates returns the most recent non-removed transaction date per account.
func (r *TransactionRepo) LatestDates(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT account_id, MAX(date) FROM transactions WHERE processing_status != ? GROUP BY account_id`, StatusRemoved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var latest sql.NullString
		if err := rows.Scan(&id, &latest); err != nil {
			return nil, err
		}
		if !latest.Valid {
			continue
		}
		t, err := parseSQLiteTime(latest.String)
		if err != nil {
			return nil, err
		}
		out[id] = t
	}
	return out, rows.Err()
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// scanTransaction handles nullable fields for both Row and Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var cents int64
	var external, merchant, description, fingerprint, cluster sql.NullString
	if err := row.Scan(&t.ID, &t.AccountID, &external, &t.Date, &cents, &t.Currency, &merchant,
		&description, &t.Category, &fingerprint, &cluster, &t.ProcessingStatus, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	t.Date = DateOnly(t.Date)
	t.Amount = decimal.New(cents, -2)
	if external.Valid {
		t.ExternalID = &external.String
	}
	if merchant.Valid {
		t.MerchantName = &merchant.String
	}
	if description.Valid {
		t.Description = &description.String
	}
	if fingerprint.Valid {
		t.Fingerprint = &fingerprint.String
	}
	if cluster.Valid {
		t.DuplicateClusterID = &cluster.String
	}
	return t, nil
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// parseSQLiteTime parses the text form go-sqlite3 writes for time values.
// Aggregates such as MAX lose the column type, so the driver hands back text.
func parseSQLiteTime(s string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, strings.TrimSuffix(s, "Z"))
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ExistingExternalIDs returns which of ids are already stored for accountID.
func (r *TransactionRepo) ExistingExternalIDs(ctx context.Context, accountID string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, accountID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := r.db.QueryContext(ctx, `SELECT external_id FROM transactions WHERE account_id = ? AND external_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
