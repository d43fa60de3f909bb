// Package api exposes scans, candidates, conflict reviews and test data over
// HTTP. Authentication happens upstream; the acting user arrives in the
// X-User-ID header.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/contact-match/internal/metrics"
	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/monitoring"
	"github.com/sells-group/contact-match/internal/scanjob"
	"github.com/sells-group/contact-match/internal/seed"
	"github.com/sells-group/contact-match/internal/store"
)

// UserHeader carries the authenticated user id.
const UserHeader = "X-User-ID"

// Scans starts and inspects scan jobs.
type Scans interface {
	Start(ctx context.Context, opts scanjob.Options) (*model.ScanJob, error)
	Last(ctx context.Context) (*model.ScanJob, error)
	Get(ctx context.Context, id string) (*model.ScanJob, error)
	Cancel(ctx context.Context, id string) error
}

// Conflicts lists and decides conflict reviews.
type Conflicts interface {
	Open(ctx context.Context) ([]model.ConflictReview, error)
	Approve(ctx context.Context, id, userID, notes string) error
	Reject(ctx context.Context, id, userID, notes string) error
	Recommendation(review *model.ConflictReview) model.Recommendation
}

// Candidates lists matching candidates.
type Candidates interface {
	ListCandidates(ctx context.Context, filter store.CandidateFilter) ([]model.MatchingCandidate, error)
}

// TestData writes and removes the seed fixture.
type TestData interface {
	Seed(ctx context.Context) (*seed.Result, error)
	Cleanup(ctx context.Context) error
}

// Stats summarises scan and review health.
type Stats interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.Snapshot, error)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the routes.
type Deps struct {
	Scans      Scans
	Conflicts  Conflicts
	Candidates Candidates
	TestData   TestData
	Health     Pinger
	Stats      Stats // optional
}

// Options tune the router.
type Options struct {
	CORSOrigins []string
}

type handler struct {
	Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps, opts Options) http.Handler {
	h := &handler{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", UserHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/scans", func(r chi.Router) {
		r.Post("/", h.startScan)
		r.Get("/last", h.lastScan)
		r.Get("/{id}", h.getScan)
		r.Post("/{id}/cancel", h.cancelScan)
	})
	if deps.Stats != nil {
		r.Get("/stats", h.stats)
	}
	r.Get("/candidates", h.listCandidates)
	r.Route("/conflicts", func(r chi.Router) {
		r.Get("/", h.listConflicts)
		r.Post("/{id}/approve", h.approveConflict)
		r.Post("/{id}/reject", h.rejectConflict)
	})
	r.Route("/testdata", func(r chi.Router) {
		r.Post("/", h.seedTestData)
		r.Delete("/", h.cleanupTestData)
	})
	return r
}

// instrument records request metrics and logs each request.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		zap.L().Debug("http request",
			zap.String("component", "api"),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
