package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account kinds.
const (
	KindAsset     = "asset"
	KindLiability = "liability"
)

// Connection statuses.
const (
	ConnectionActive  = "active"
	ConnectionExpired = "expired"
)

// Processing statuses recorded on transactions after reconciliation.
const (
	StatusCanonical = "canonical"
	StatusFlagged   = "flagged"
	StatusRemoved   = "removed"
)

// Sync log statuses.
const (
	SyncInProgress = "in_progress"
	SyncCompleted  = "completed"
	SyncFailed     = "failed"
)

// Uncategorized is the category assigned when the provider sends none.
const Uncategorized = "uncategorized"

// Account represents an account row.
type Account struct {
	ID               string
	UserID           string
	Name             string
	Kind             string
	Balance          decimal.Decimal
	Currency         string
	ConnectionID     string
	ConnectionStatus string
	IsManual         bool
	LastSyncedAt     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Transaction represents a transaction row. Fingerprint, DuplicateClusterID
// and ProcessingStatus are processing metadata written by reconciliation.
type Transaction struct {
	ID                 string
	AccountID          string
	ExternalID         *string
	Date               time.Time
	Amount             decimal.Decimal
	Currency           string
	MerchantName       *string
	Description        *string
	Category           string
	Fingerprint        *string
	DuplicateClusterID *string
	ProcessingStatus   string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SyncLog is the audit record of one sync attempt.
type SyncLog struct {
	ID                    string
	AccountID             string
	StartedAt             time.Time
	CompletedAt           *time.Time
	Status                string
	TransactionsProcessed int
	DuplicatesFound       int
	Errors                []string
}
