package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-match/internal/conflict"
	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/scanjob"
	"github.com/sells-group/contact-match/internal/store"
)

// ConflictView is a review item with its advisory recommendation.
type ConflictView struct {
	model.ConflictReview
	Recommendation model.Recommendation `json:"recommendation"`
}

type decisionRequest struct {
	Notes string `json:"notes"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.String("component", "api"), zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps domain errors to status codes. Unexpected errors are
// logged and reported without detail.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, conflict.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "already resolved")
	case errors.Is(err, scanjob.ErrScanRunning):
		writeError(w, http.StatusConflict, "scan already running")
	case errors.Is(err, scanjob.ErrNotRunning):
		writeError(w, http.StatusConflict, "scan is not running")
	case errors.Is(err, conflict.ErrUserRequired):
		writeError(w, http.StatusUnauthorized, "user id required")
	default:
		zap.L().Error("api: request failed",
			zap.String("component", "api"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			zap.L().Warn("api: health check failed", zap.String("component", "api"), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) startScan(w http.ResponseWriter, r *http.Request) {
	dev, err := boolParam(r, "dev")
	if err != nil {
		writeError(w, http.StatusBadRequest, "dev must be a boolean")
		return
	}
	job, err := h.Scans.Start(r.Context(), scanjob.Options{DevelopmentMode: dev})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *handler) lastScan(w http.ResponseWriter, r *http.Request) {
	job, err := h.Scans.Last(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handler) getScan(w http.ResponseWriter, r *http.Request) {
	job, err := h.Scans.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handler) cancelScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Scans.Cancel(r.Context(), id); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancel_requested"})
}

// defaultStatsHours is the lookback used when hours is omitted.
const defaultStatsHours = 24

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r.URL.Query().Get("hours"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "hours must be a non-negative integer")
		return
	}
	if hours == 0 {
		hours = defaultStatsHours
	}
	snap, err := h.Stats.Collect(r.Context(), hours)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) listCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, err := intParam(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	cands, err := h.Candidates.ListCandidates(r.Context(), store.CandidateFilter{
		Status:     model.CandidateStatus(q.Get("status")),
		EntityType: model.EntityType(q.Get("entity_type")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if cands == nil {
		cands = []model.MatchingCandidate{}
	}
	writeJSON(w, http.StatusOK, cands)
}

func (h *handler) listConflicts(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.Conflicts.Open(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	out := make([]ConflictView, len(reviews))
	for i := range reviews {
		out[i] = ConflictView{ConflictReview: reviews[i], Recommendation: h.Conflicts.Recommendation(&reviews[i])}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) approveConflict(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Conflicts.Approve, model.ReviewApproved)
}

func (h *handler) rejectConflict(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Conflicts.Reject, model.ReviewRejected)
}

func (h *handler) decide(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, userID, notes string) error, status model.ReviewStatus) {
	userID := strings.TrimSpace(r.Header.Get(UserHeader))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "user id required")
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), id, userID, req.Notes); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(status)})
}

func (h *handler) seedTestData(w http.ResponseWriter, r *http.Request) {
	res, err := h.TestData.Seed(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handler) cleanupTestData(w http.ResponseWriter, r *http.Request) {
	if err := h.TestData.Cleanup(r.Context()); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, eris.Errorf("api: invalid integer %q", v)
	}
	return n, nil
}
