package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jask/ledgersync/internal/provider"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		kind Kind
	}{
		{provider.NewError(401, "revoked"), KindExpiredCredential},
		{provider.NewError(503, "down"), KindTransientProvider},
		{provider.NewError(429, "slow"), KindTransientProvider},
		{provider.NewError(404, "gone"), KindProviderRejected},
		{fmt.Errorf("fetch: %w", context.DeadlineExceeded), KindTransientProvider},
		{errors.New("disk full"), KindInternal},
		{&SyncError{Kind: KindValidation, Err: ErrValidation}, KindValidation},
	}
	for _, tc := range cases {
		got := classify(tc.err)
		require.Equal(t, tc.kind, got.Kind, tc.err.Error())
		require.Equal(t, tc.kind == KindTransientProvider, got.Retryable())
		require.ErrorIs(t, got, tc.err)
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()
	require.Equal(t, KindInternal, KindOf(errors.New("x")))
	require.Equal(t, KindValidation, KindOf(&ValidationError{Field: "amount"}))
	wrapped := fmt.Errorf("run: %w", &SyncError{Kind: KindAdmissionDenied, Err: ErrAdmissionDenied})
	require.Equal(t, KindAdmissionDenied, KindOf(wrapped))
	require.ErrorIs(t, wrapped, ErrAdmissionDenied)
}
