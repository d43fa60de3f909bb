package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-match/internal/conflict"
	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/monitoring"
	"github.com/sells-group/contact-match/internal/resilience"
	"github.com/sells-group/contact-match/internal/scanjob"
	"github.com/sells-group/contact-match/internal/seed"
	"github.com/sells-group/contact-match/internal/store"
)

type env struct {
	store    *store.MemoryStore
	resolver *conflict.Resolver
	handler  http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := store.NewMemory()
	scans := scanjob.New(s, nil, scanjob.Config{Retry: resilience.NewRetryPolicy(1, time.Millisecond, time.Millisecond)})
	resolver := conflict.NewResolver(s, nil, 0)
	return &env{
		store:    s,
		resolver: resolver,
		handler: NewRouter(Deps{
			Scans:      scans,
			Conflicts:  resolver,
			Candidates: s,
			TestData:   seed.New(s),
			Health:     s,
			Stats:      monitoring.NewCollector(s),
		}, Options{CORSOrigins: []string{"https://admin.example.com"}}),
	}
}

func (e *env) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) raise(t *testing.T) *model.ConflictReview {
	t.Helper()
	ctx := context.Background()
	c := model.Company{Name: "Old Name", OrganizationID: "org-1"}
	require.NoError(t, e.store.CreateCompany(ctx, &c))
	review, raised, err := e.resolver.Raise(ctx, conflict.Proposal{
		EntityType:     model.EntityCompany,
		EntityID:       c.ID,
		EntityName:     c.Name,
		OrganizationID: "org-1",
		Field:          "name",
		CurrentValue:   c.Name,
		SuggestedValue: "New Name",
		Confidence:     0.92,
	})
	require.NoError(t, err)
	require.True(t, raised)
	return review
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth_Unavailable(t *testing.T) {
	h := NewRouter(Deps{Health: downPinger{}}, Options{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodGet, "/health", "", nil)
	rec := e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "contact_match_http_requests_total")
}

func TestScans_StartAndLast(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/testdata", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodPost, "/scans?dev=true", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started model.ScanJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, model.ScanRunning, started.Status)
	assert.True(t, started.DevelopmentMode)

	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/scans/"+started.ID, "", nil)
		var job model.ScanJob
		return rec.Code == http.StatusOK &&
			json.Unmarshal(rec.Body.Bytes(), &job) == nil &&
			job.Status == model.ScanCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rec = e.do(t, http.MethodGet, "/scans/last", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var last model.ScanJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &last))
	assert.Equal(t, started.ID, last.ID)
	assert.Equal(t, 2, last.Stats.CandidatesCreated)

	rec = e.do(t, http.MethodGet, "/candidates?status=open", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cands []model.MatchingCandidate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cands))
	assert.Len(t, cands, 2)
}

func TestScans_Errors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec := e.do(t, http.MethodGet, "/scans/last", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decodeError(t, rec))

	rec = e.do(t, http.MethodPost, "/scans?dev=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	running := &model.ScanJob{Status: model.ScanRunning}
	require.NoError(t, e.store.CreateScanJob(ctx, running))
	rec = e.do(t, http.MethodPost, "/scans", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/scans/"+running.ID+"/cancel", "", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	done := &model.ScanJob{Status: model.ScanCompleted}
	require.NoError(t, e.store.CreateScanJob(ctx, done))
	rec = e.do(t, http.MethodPost, "/scans/"+done.ID+"/cancel", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCandidates_BadPaging(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/candidates?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/candidates", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestConflicts_ListAndApprove(t *testing.T) {
	e := newEnv(t)
	review := e.raise(t)

	rec := e.do(t, http.MethodGet, "/conflicts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var open []ConflictView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &open))
	require.Len(t, open, 1)
	assert.Equal(t, review.ID, open[0].ID)
	assert.Equal(t, model.RecommendApply, open[0].Recommendation)
	assert.Equal(t, model.PriorityHigh, open[0].Priority)

	path := "/conflicts/" + review.ID + "/approve"
	rec = e.do(t, http.MethodPost, path, `{"notes":"checked"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, path, `{"notes":"checked"}`, map[string]string{UserHeader: "editor-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := e.store.GetCompany(context.Background(), review.EntityID)
	require.NoError(t, err)
	assert.Equal(t, "New Name", got.Name)

	rec = e.do(t, http.MethodPost, "/conflicts/"+review.ID+"/reject", "", map[string]string{UserHeader: "editor-2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already resolved", decodeError(t, rec))
}

func TestConflicts_RejectAndMissing(t *testing.T) {
	e := newEnv(t)
	review := e.raise(t)
	user := map[string]string{UserHeader: "editor-1"}

	rec := e.do(t, http.MethodPost, "/conflicts/"+review.ID+"/reject", "", user)
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := e.store.GetCompany(context.Background(), review.EntityID)
	require.NoError(t, err)
	assert.Equal(t, "Old Name", got.Name)

	rec = e.do(t, http.MethodPost, "/conflicts/missing/approve", "", user)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/conflicts/"+review.ID+"/approve", "{not json", user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestData_Cleanup(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/testdata", "", nil).Code)
	require.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/testdata", "", nil).Code)

	orgs, err := e.store.ListOrganizations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orgs)
}

func TestCORS(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/conflicts", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestInternalErrorsHideDetail(t *testing.T) {
	h := NewRouter(Deps{Candidates: brokenCandidates{}}, Options{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/candidates", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeError(t, rec))
	assert.NotContains(t, rec.Body.String(), "pq:")
}

type brokenCandidates struct{}

func (brokenCandidates) ListCandidates(context.Context, store.CandidateFilter) ([]model.MatchingCandidate, error) {
	return nil, errors.New("pq: relation matching_candidates does not exist")
}

func TestStats(t *testing.T) {
	e := newEnv(t)
	e.raise(t)

	rec := e.do(t, http.MethodGet, "/stats?hours=12", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap monitoring.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 12, snap.LookbackHours)
	assert.Equal(t, 1, snap.ConflictsOpen)
	assert.Equal(t, 1, snap.ConflictsByPriority[model.PriorityHigh])
	assert.Nil(t, snap.LastScan)

	rec = e.do(t, http.MethodGet, "/stats?hours=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats_NotMountedWithoutCollector(t *testing.T) {
	h := NewRouter(Deps{Health: store.NewMemory()}, Options{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
