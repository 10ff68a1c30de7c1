package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jask/ledgersync/internal/provider"
)

// Kind classifies sync failures.
type Kind string

const (
	KindTransientProvider Kind = "transient_provider"
	KindExpiredCredential Kind = "expired_credential"
	KindProviderRejected  Kind = "provider_rejected"
	KindValidation        Kind = "validation"
	KindAdmissionDenied   Kind = "admission_denied"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

var (
	// ErrAdmissionDenied marks a sync that was not started. It is a normal
	// outcome; the decision travels in SyncResult.Denied.
	ErrAdmissionDenied = errors.New("sync not admitted")
	// ErrValidation marks a malformed provider record.
	ErrValidation = errors.New("invalid transaction record")
	// ErrAccountNotFound is returned for unknown account ids.
	ErrAccountNotFound = errors.New("account not found")
)

// SyncError carries the kind of a failed sync.
type SyncError struct {
	Kind Kind
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Retryable reports whether the same sync may succeed later.
func (e *SyncError) Retryable() bool { return e.Kind == KindTransientProvider }

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrValidation) {
		return KindValidation
	}
	return KindInternal
}

// classify wraps a failure from the provider or the sync deadline.
func classify(err error) *SyncError {
	var se *SyncError
	switch {
	case errors.As(err, &se):
		return se
	case provider.IsExpiredCredential(err):
		return &SyncError{Kind: KindExpiredCredential, Err: err}
	case provider.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		return &SyncError{Kind: KindTransientProvider, Err: err}
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		return &SyncError{Kind: KindProviderRejected, Err: err}
	}
	return &SyncError{Kind: KindInternal, Err: err}
}

// ValidationError describes one rejected record.
type ValidationError struct {
	Index      int
	ExternalID string
	Field      string
	Value      string
	Reason     string
}

func (e *ValidationError) Error() string {
	ref := fmt.Sprintf("record %d", e.Index)
	if e.ExternalID != "" {
		ref += fmt.Sprintf(" (%s)", e.ExternalID)
	}
	return fmt.Sprintf("%s: %s %q: %s", ref, e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
