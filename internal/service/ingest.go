package service

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jask/ledgersync/internal/provider"
	"github.com/jask/ledgersync/internal/reconcile"
)

// IngestService imports bank exports into an account through the same
// validation and reconciliation as provider syncs.
type IngestService struct {
	Ledger   *Ledger
	Strategy reconcile.Strategy
}

// csvColumns is the expected header, in order. external_id, merchant,
// description, category and currency may be empty.
var csvColumns = []string{"date", "amount", "currency", "merchant", "description", "category", "external_id"}

// ImportCSV reads rows of date, amount, currency, merchant, description,
// category, external_id. A header row matching those names is skipped.
// Malformed rows are reported in the result and do not stop the import.
func (s *IngestService) ImportCSV(ctx context.Context, accountID string, r io.Reader) (IngestResult, error) {
	acct, err := s.Ledger.Accounts.Get(ctx, accountID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("load account: %w", err)
	}
	if acct == nil {
		return IngestResult{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}

	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1

	var (
		raw     []provider.Transaction
		rowErrs []string
	)
	for first := true; ; first = false {
		rec, err := csvr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				rowErrs = append(rowErrs, fmt.Sprintf("line %d: %v", pe.StartLine, pe.Err))
			} else {
				rowErrs = append(rowErrs, err.Error())
			}
			continue
		}
		line, _ := csvr.FieldPos(0)
		if first && isHeader(rec) {
			continue
		}
		if len(rec) < 2 {
			rowErrs = append(rowErrs, fmt.Sprintf("line %d: expected at least date and amount", line))
			continue
		}
		raw = append(raw, provider.Transaction{
			Date:         rec[0],
			Amount:       rec[1],
			Currency:     field(rec, 2),
			MerchantName: field(rec, 3),
			Description:  field(rec, 4),
			Category:     field(rec, 5),
			ExternalID:   field(rec, 6),
		})
	}

	strategy := s.Strategy
	if strategy == "" {
		strategy = reconcile.Merge
	}
	res, err := s.Ledger.ingest(ctx, *acct, raw, ingestOptions{strategy: strategy})
	res.Errors = append(rowErrs, res.Errors...)
	return res, err
}

func isHeader(rec []string) bool {
	if len(rec) < 2 {
		return false
	}
	for i, col := range rec {
		if i >= len(csvColumns) || !strings.EqualFold(strings.TrimSpace(col), csvColumns[i]) {
			return false
		}
	}
	return true
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return strings.TrimSpace(rec[i])
	}
	return ""
}
