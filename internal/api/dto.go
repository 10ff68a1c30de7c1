package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/ledgersync/internal/database/repository"
	"github.com/jask/ledgersync/internal/reconcile"
)

// TransactionDTO is the wire form of a transaction.
type TransactionDTO struct {
	ID                 string          `json:"id"`
	AccountID          string          `json:"accountId,omitempty"`
	ExternalID         *string         `json:"externalId,omitempty"`
	Date               string          `json:"date"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	MerchantName       *string         `json:"merchantName,omitempty"`
	Description        *string         `json:"description,omitempty"`
	Category           string          `json:"category,omitempty"`
	Fingerprint        *string         `json:"fingerprint,omitempty"`
	DuplicateClusterID *string         `json:"duplicateClusterId,omitempty"`
	ProcessingStatus   string          `json:"processingStatus,omitempty"`
}

func (d TransactionDTO) toModel() (repository.Transaction, error) {
	date, err := parseDay(d.Date)
	if err != nil {
		return repository.Transaction{}, fmt.Errorf("transaction %q: %w", d.ID, err)
	}
	id := d.ID
	if id == "" {
		id = uuid.NewString()
	}
	return repository.Transaction{
		ID:               id,
		AccountID:        d.AccountID,
		ExternalID:       d.ExternalID,
		Date:             date,
		Amount:           d.Amount,
		Currency:         strings.ToUpper(d.Currency),
		MerchantName:     d.MerchantName,
		Description:      d.Description,
		Category:         d.Category,
		ProcessingStatus: repository.StatusCanonical,
	}, nil
}

func parseDay(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return repository.DateOnly(t), nil
}

func toDTO(t repository.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:                 t.ID,
		AccountID:          t.AccountID,
		ExternalID:         t.ExternalID,
		Date:               t.Date.Format(time.DateOnly),
		Amount:             t.Amount,
		Currency:           t.Currency,
		MerchantName:       t.MerchantName,
		Description:        t.Description,
		Category:           t.Category,
		Fingerprint:        t.Fingerprint,
		DuplicateClusterID: t.DuplicateClusterID,
		ProcessingStatus:   t.ProcessingStatus,
	}
}

func toDTOs(txs []repository.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, len(txs))
	for i, t := range txs {
		out[i] = toDTO(t)
	}
	return out
}

type reconcileRequest struct {
	New      []TransactionDTO `json:"new"`
	Existing []TransactionDTO `json:"existing"`
	Strategy string           `json:"strategy"`
}

type clusterDTO struct {
	ID             string   `json:"id"`
	MemberIDs      []string `json:"memberIds"`
	Confidence     string   `json:"confidence"`
	MeanSimilarity float64  `json:"meanSimilarity"`
	Reason         string   `json:"reason"`
}

type resolutionDTO struct {
	ClusterID string   `json:"clusterId"`
	Keep      []string `json:"keep"`
	Remove    []string `json:"remove"`
	Flag      []string `json:"flag"`
}

type reconcileResponse struct {
	Canonical   []TransactionDTO `json:"canonical"`
	Removed     []TransactionDTO `json:"removed"`
	Known       []TransactionDTO `json:"known"`
	Duplicates  []clusterDTO     `json:"duplicates"`
	Resolutions []resolutionDTO  `json:"resolutions"`
}

func toReconcileResponse(res reconcile.BatchResult) reconcileResponse {
	out := reconcileResponse{
		Canonical:   toDTOs(res.Canonical),
		Removed:     toDTOs(res.Removed),
		Known:       toDTOs(res.Known),
		Duplicates:  make([]clusterDTO, len(res.Duplicates)),
		Resolutions: make([]resolutionDTO, len(res.Resolutions)),
	}
	for i, c := range res.Duplicates {
		out.Duplicates[i] = clusterDTO{
			ID:             c.ID,
			MemberIDs:      c.IDs(),
			Confidence:     string(c.Confidence),
			MeanSimilarity: c.MeanSimilarity,
			Reason:         c.Reason,
		}
	}
	for i, r := range res.Resolutions {
		out.Resolutions[i] = resolutionDTO{
			ClusterID: r.ClusterID,
			Keep:      nonNil(r.Keep),
			Remove:    nonNil(r.Remove),
			Flag:      nonNil(r.Flag),
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type resolveClusterRequest struct {
	// KeepID names the member to keep. Empty dismisses the cluster.
	KeepID string `json:"keepId"`
}

type syncLogDTO struct {
	ID                    string     `json:"id"`
	StartedAt             time.Time  `json:"startedAt"`
	CompletedAt           *time.Time `json:"completedAt,omitempty"`
	Status                string     `json:"status"`
	TransactionsProcessed int        `json:"transactionsProcessed"`
	DuplicatesFound       int        `json:"duplicatesFound"`
	Errors                []string   `json:"errors"`
}

func toSyncLogDTO(l repository.SyncLog) syncLogDTO {
	return syncLogDTO{
		ID:                    l.ID,
		StartedAt:             l.StartedAt,
		CompletedAt:           l.CompletedAt,
		Status:                l.Status,
		TransactionsProcessed: l.TransactionsProcessed,
		DuplicatesFound:       l.DuplicatesFound,
		Errors:                nonNil(l.Errors),
	}
}
