// Package api exposes admission checks, syncs, batch reconciliation and the
// sync plan over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/jask/ledgersync/internal/service"
)

// Handler serves the API.
type Handler struct {
	sync      *service.SyncService
	reconcile *service.ReconcileService
	scheduler *service.Scheduler
}

func NewHandler(sync *service.SyncService, reconcile *service.ReconcileService, scheduler *service.Scheduler) *Handler {
	return &Handler{sync: sync, reconcile: reconcile, scheduler: scheduler}
}

// Options tunes the router middleware. A zero RequestsPerSecond disables the
// rate limiter.
type Options struct {
	RequestsPerSecond float64
	Burst             int
}

// NewRouter mounts h under /api.
func NewRouter(h *Handler, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(ContextualLoggerMiddleware)
	if opts.RequestsPerSecond > 0 {
		burst := max(opts.Burst, 1)
		r.Use(RateLimitMiddleware(rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/users/{userID}/accounts/{accountID}/can-sync", h.HandleCanSync)
		r.Post("/accounts/{accountID}/sync", h.HandleSync)
		r.Get("/accounts/{accountID}/sync-logs", h.HandleSyncLogs)
		r.Post("/reconcile", h.HandleReconcile)
		r.Post("/clusters/{clusterID}/resolve", h.HandleResolveCluster)
		r.Get("/plan", h.HandlePlan)
	})
	return r
}
