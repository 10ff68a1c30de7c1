package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jask/ledgersync/internal/database/repository"
	"github.com/jask/ledgersync/internal/logger"
	"github.com/jask/ledgersync/internal/reconcile"
	"github.com/jask/ledgersync/internal/service"
)

const maxBodyBytes = 4 << 20

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendJSONError(w http.ResponseWriter, msg string, status int) {
	sendJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch service.KindOf(err) {
	case service.KindAdmissionDenied:
		return http.StatusConflict
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindTransientProvider:
		return http.StatusServiceUnavailable
	case service.KindExpiredCredential, service.KindProviderRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) HandleCanSync(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	accountID := chi.URLParam(r, "accountID")
	decision, err := h.sync.CanSync(r.Context(), userID, accountID)
	if err != nil {
		if status := statusFor(err); status != http.StatusInternalServerError {
			sendJSONError(w, err.Error(), status)
			return
		}
		logger.FromContext(r.Context()).Error("can-sync failed", "account_id", accountID, "error", err)
		sendJSONError(w, "internal error", http.StatusInternalServerError)
		return
	}
	sendJSON(w, http.StatusOK, decision)
}

// HandleSync runs a sync and returns its SyncResult. A denied sync answers
// 409 with the decision in the body and Retry-After when known.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	ctx := logger.With(r.Context(), "account_id", accountID)
	res, err := h.sync.RunSync(ctx, accountID)
	if err == nil {
		sendJSON(w, http.StatusOK, res)
		return
	}

	status := statusFor(err)
	switch {
	case errors.Is(err, service.ErrAdmissionDenied):
		if res.Denied != nil && res.Denied.RetryAfter != nil {
			secs := int(time.Until(*res.Denied.RetryAfter).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		}
	case errors.Is(err, service.ErrAccountNotFound):
		sendJSONError(w, err.Error(), status)
		return
	case status == http.StatusInternalServerError:
		logger.FromContext(ctx).Error("sync failed", "error", err)
	}
	sendJSON(w, status, res)
}

func (h *Handler) HandleSyncLogs(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := h.sync.Ledger.SyncLogs.ListByAccount(r.Context(), accountID, limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("list sync logs", "account_id", accountID, "error", err)
		sendJSONError(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]syncLogDTO, len(logs))
	for i, l := range logs {
		out[i] = toSyncLogDTO(l)
	}
	sendJSON(w, http.StatusOK, out)
}

// HandleReconcile reconciles a batch against the given history without
// touching storage.
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		sendJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	strategy, err := reconcile.ParseStrategy(req.Strategy)
	if req.Strategy == "" {
		strategy, err = reconcile.Merge, nil
	}
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	incoming, err := toModels(req.New)
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	existing, err := toModels(req.Existing)
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.reconcile.Preview(incoming, existing, strategy)
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sendJSON(w, http.StatusOK, toReconcileResponse(res))
}

func toModels(in []TransactionDTO) ([]repository.Transaction, error) {
	out := make([]repository.Transaction, 0, len(in))
	for _, d := range in {
		t, err := d.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (h *Handler) HandleResolveCluster(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "clusterID")
	var req resolveClusterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		sendJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.reconcile.ResolveFlagged(r.Context(), clusterID, req.KeepID); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			logger.FromContext(r.Context()).Error("resolve cluster", "cluster_id", clusterID, "error", err)
		}
		sendJSONError(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandlePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.scheduler.Plan(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("plan failed", "error", err)
		sendJSONError(w, "internal error", http.StatusInternalServerError)
		return
	}
	sendJSON(w, http.StatusOK, plan)
}
