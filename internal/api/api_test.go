package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/ledgersync/internal/database"
	"github.com/jask/ledgersync/internal/database/repository"
	"github.com/jask/ledgersync/internal/provider"
	"github.com/jask/ledgersync/internal/scheduler"
	"github.com/jask/ledgersync/internal/service"
)

type testServer struct {
	handler http.Handler
	ledger  *service.Ledger
	fake    *provider.FakeClient
	adm     *scheduler.Admission
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db))

	ledger := service.NewLedger(db, nil)
	fake := provider.NewFakeClient()
	adm := scheduler.NewAdmission(scheduler.NewMemoryStore(), scheduler.DefaultPolicy, nil)
	planner := scheduler.NewPlanner(nil)
	syncSvc := &service.SyncService{Ledger: ledger, Provider: fake, Admission: adm, Planner: planner, Timeout: 5 * time.Second}
	h := NewHandler(syncSvc, &service.ReconcileService{Ledger: ledger}, &service.Scheduler{Sync: syncSvc, Planner: planner})
	return &testServer{handler: NewRouter(h, opts), ledger: ledger, fake: fake, adm: adm}
}

func (s *testServer) account(t *testing.T, id string, manual bool) repository.Account {
	t.Helper()
	a := repository.Account{ID: id, UserID: "user-1", Name: id, Balance: decimal.Zero, Currency: "GBP", ConnectionID: "conn-" + id, IsManual: manual}
	require.NoError(t, s.ledger.Accounts.Upsert(context.Background(), a))
	return a
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestCanSync(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	s.account(t, "a1", false)

	rec := s.do(t, http.MethodGet, "/api/users/user-1/accounts/a1/can-sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"allowed":true}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))

	require.NoError(t, s.adm.StartSync(context.Background(), "user-1", "a1"))
	rec = s.do(t, http.MethodGet, "/api/users/user-1/accounts/a1/can-sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"allowed":false,"reason":"`+scheduler.ReasonInProgress+`"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/users/user-2/accounts/a1/can-sync", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSync(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	a := s.account(t, "a1", false)
	today := time.Now().UTC().Format(time.DateOnly)
	s.fake.SetTransactions(a.ConnectionID, []provider.Transaction{
		{ExternalID: "x1", Amount: "-3.10", Date: today, MerchantName: "Pret"},
		{ExternalID: "x2", Amount: "oops", Date: today},
	})

	rec := s.do(t, http.MethodPost, "/api/accounts/a1/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res service.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Success)
	require.Equal(t, 1, res.TransactionsProcessed)
	require.Equal(t, 1, res.TransactionsStored)
	require.Len(t, res.Errors, 1)

	rec = s.do(t, http.MethodGet, "/api/accounts/a1/sync-logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []syncLogDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	require.Equal(t, repository.SyncCompleted, logs[0].Status)
}

func TestSyncDenied(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	s.account(t, "cash", true)

	rec := s.do(t, http.MethodPost, "/api/accounts/cash/sync", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	var res service.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.False(t, res.Success)
	require.NotNil(t, res.Denied)
	require.Equal(t, service.ReasonManualAccount, res.Denied.Reason)

	rec = s.do(t, http.MethodPost, "/api/accounts/missing/sync", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncProviderFailure(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	a := s.account(t, "a1", false)
	s.fake.Fail(a.ConnectionID, provider.NewError(502, "upstream"))

	rec := s.do(t, http.MethodPost, "/api/accounts/a1/sync", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var res service.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Retryable)
	require.NotNil(t, res.NextAttemptAt)
}

func TestReconcile(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	merchant := func(m string) *string { return &m }
	body := reconcileRequest{
		New: []TransactionDTO{
			{ID: "n1", Date: "2025-10-03", Amount: decimal.RequireFromString("-25"), Currency: "GBP", MerchantName: merchant("Shell")},
			{ID: "n2", Date: "2025-10-03", Amount: decimal.RequireFromString("-25"), Currency: "GBP", MerchantName: merchant("SHELL 4021")},
			{ID: "n3", Date: "2025-10-04", Amount: decimal.RequireFromString("-9.99"), Currency: "GBP", MerchantName: merchant("Spotify")},
		},
		Existing: []TransactionDTO{
			{ID: "e1", Date: "2025-10-04", Amount: decimal.RequireFromString("-9.99"), Currency: "GBP", MerchantName: merchant("Spotify")},
		},
		Strategy: "keep_oldest",
	}

	rec := s.do(t, http.MethodPost, "/api/reconcile", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var res reconcileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Canonical, 1)
	require.Equal(t, "n1", res.Canonical[0].ID)
	require.Len(t, res.Removed, 1)
	require.Equal(t, "n2", res.Removed[0].ID)
	require.Len(t, res.Known, 1)
	require.Equal(t, "n3", res.Known[0].ID)
	require.Len(t, res.Duplicates, 2)
	require.Equal(t, []string{"e1", "n3"}, res.Duplicates[0].MemberIDs)
	require.NotNil(t, res.Canonical[0].Fingerprint)

	body.Strategy = "coin_toss"
	rec = s.do(t, http.MethodPost, "/api/reconcile", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/reconcile", map[string]any{"new": []map[string]any{{"id": "x", "date": "yesterday", "amount": "1"}}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid date")
}

func TestReconcileRejectsSharedIDs(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	merchant := func(m string) *string { return &m }
	uber := func(id, date string) TransactionDTO {
		return TransactionDTO{ID: id, Date: date, Amount: decimal.RequireFromString("-12"), Currency: "GBP", MerchantName: merchant("Uber")}
	}

	rec := s.do(t, http.MethodPost, "/api/reconcile", reconcileRequest{
		New:      []TransactionDTO{uber("x", "2025-10-01"), uber("x", "2025-10-02")},
		Strategy: "keep_latest",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "duplicate transaction id")

	rec = s.do(t, http.MethodPost, "/api/reconcile", reconcileRequest{
		New:      []TransactionDTO{uber("x", "2025-10-02")},
		Existing: []TransactionDTO{uber("x", "2025-10-01")},
		Strategy: "keep_latest",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/reconcile", reconcileRequest{
		New:      []TransactionDTO{uber("", "2025-10-01"), uber("", "2025-10-02")},
		Strategy: "keep_latest",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var res reconcileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Canonical, 1)
	require.Len(t, res.Removed, 1)
}

func TestResolveCluster(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	rec := s.do(t, http.MethodPost, "/api/clusters/nope/resolve", resolveClusterRequest{})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlan(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	s.account(t, "a1", false)
	s.account(t, "cash", true)

	rec := s.do(t, http.MethodGet, "/api/plan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var plan []scheduler.PlanEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Len(t, plan, 1)
	require.Equal(t, "a1", plan[0].AccountID)
	require.Equal(t, scheduler.PriorityHigh, plan[0].Priority)
	require.True(t, plan[0].Due)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{RequestsPerSecond: 0.001, Burst: 2})
	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, s.do(t, http.MethodGet, "/healthz", nil).Code)
	}
	require.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", strings.NewReader(""))
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}
