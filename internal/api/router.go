// Package api exposes the daemon's HTTP trigger surface: health checks,
// the on-demand sync trigger, matcher administration, and metrics.
package api

import (
    "context"
    "log/slog"
    "net/http"

    "github.com/go-chi/chi/v5"
    "github.com/go-chi/chi/v5/middleware"

    "github.com/example/bank-sync/internal/state"
    "github.com/example/bank-sync/internal/sync"
)

// Trigger starts one pipeline run. The on-demand path and the scheduler
// share the same entry point and side effects.
type Trigger interface {
    Run(ctx context.Context) sync.Outcome
}

// Limiter gates the on-demand trigger. Nil means unlimited.
type Limiter interface {
    Allow(ctx context.Context) (bool, error)
}

type Dependencies struct {
    Logger  *slog.Logger
    Runner  Trigger
    State   state.Store
    Limiter Limiter
    Metrics http.Handler
}

func NewRouter(deps Dependencies) http.Handler {
    if deps.Logger == nil {
        deps.Logger = slog.Default()
    }

    r := chi.NewRouter()
    r.Use(middleware.Recoverer)
    r.Use(RequestLogger(deps.Logger))

    r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
    })

    if deps.Metrics != nil {
        r.Method(http.MethodGet, "/metrics", deps.Metrics)
    }

    r.Route("/v1", func(r chi.Router) {
        r.Post("/sync", handleSync(deps))
        r.Get("/matchers", handleGetMatchers(deps))
        r.Put("/matchers", handlePutMatchers(deps))
    })

    r.NotFound(func(w http.ResponseWriter, r *http.Request) {
        writeJSONError(w, http.StatusNotFound, "not_found")
    })

    r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
        writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed")
    })

    return r
}
