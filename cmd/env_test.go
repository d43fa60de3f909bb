package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-match/internal/config"
	"github.com/sells-group/contact-match/internal/lock"
	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/monitoring"
	"github.com/sells-group/contact-match/internal/scanjob"
	"github.com/sells-group/contact-match/internal/store"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.Store.Driver = "memory"
	c.Lock.Driver = "local"
	c.Matching = config.MatchingConfig{
		CompanyThreshold:     88,
		PublicationThreshold: 75,
		RecommendThreshold:   0.7,
		CacheSize:            100,
		MaxCompanyResults:    3,
		ContactPageSize:      200,
	}
	c.Scan = config.ScanConfig{
		Concurrency:             2,
		BatchSize:               10,
		NameThreshold:           90,
		RateLimitPerSec:         5,
		RetryMaxAttempts:        4,
		RetryInitialBackoffMs:   50,
		RetryMaxBackoffMs:       1000,
		CircuitFailureThreshold: 7,
		CircuitResetSecs:        20,
		StaleAfterMins:          45,
	}
	c.Server.Port = 8080
	return c
}

func TestScanJobConfig(t *testing.T) {
	sc := scanJobConfig(testConfig())

	assert.Equal(t, 88, sc.Matching.CompanyThreshold)
	assert.Equal(t, 75, sc.Matching.PublicationThreshold)
	assert.Equal(t, 100, sc.Matching.CacheSize)
	assert.Equal(t, 3, sc.MaxCompanyResults)
	assert.InDelta(t, 0.7, sc.RecommendThreshold, 0.001)
	assert.Equal(t, 200, sc.ContactPageSize)
	assert.Equal(t, 2, sc.Scan.Concurrency)
	assert.Equal(t, 10, sc.Scan.BatchSize)
	assert.Equal(t, 200, sc.Scan.ContactPageSize)
	assert.Equal(t, 90, sc.Scan.NameThreshold)
	assert.InDelta(t, 5.0, sc.Scan.RatePerSecond, 0.001)
	assert.Equal(t, 4, sc.Retry.Attempts)
	assert.Equal(t, 50*time.Millisecond, sc.Retry.BaseDelay)
	assert.Equal(t, time.Second, sc.Retry.MaxDelay)
	assert.Equal(t, 7, sc.Circuit.Threshold)
	assert.Equal(t, 20*time.Second, sc.Circuit.Cooldown)
	assert.Equal(t, 45*time.Minute, sc.StaleAfter)
}

func TestInitStore(t *testing.T) {
	ctx := context.Background()

	st, err := initStore(ctx, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, st)

	st, err = initStore(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "match.db")})
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, st)
	require.NoError(t, st.Close())

	_, err = initStore(ctx, config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitLocker(t *testing.T) {
	ctx := context.Background()

	l, closeFn, err := initLocker(ctx, config.LockConfig{Driver: "local"}, config.RedisConfig{})
	require.NoError(t, err)
	assert.IsType(t, &lock.Local{}, l)
	assert.Nil(t, closeFn)

	_, _, err = initLocker(ctx, config.LockConfig{Driver: "etcd"}, config.RedisConfig{})
	assert.Error(t, err)
}

func TestInitEnv_ValidatesConfig(t *testing.T) {
	c := testConfig()
	c.Scan.BatchSize = 0

	_, err := initEnv(context.Background(), c, "scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan.batch_size")
}

func TestInitEnv_WiresServices(t *testing.T) {
	ctx := context.Background()
	env, err := initEnv(ctx, testConfig(), "scan")
	require.NoError(t, err)
	defer env.Close()

	res, err := env.Seeder.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Organizations)

	job, err := env.Scans.Run(ctx, scanjob.Options{})
	require.NoError(t, err)
	assert.Equal(t, model.ScanCompleted, job.Status)
	assert.Equal(t, 2, job.Stats.CandidatesCreated)

	var buf bytes.Buffer
	formatScanJob(&buf, job)
	assert.Contains(t, buf.String(), job.ID)
	assert.Contains(t, buf.String(), "completed")
	assert.Contains(t, buf.String(), "2 created, 0 updated")

	cands, err := env.Store.ListCandidates(ctx, store.CandidateFilter{})
	require.NoError(t, err)
	buf.Reset()
	formatCandidates(&buf, cands)
	assert.Contains(t, buf.String(), "SCORE")
	assert.Contains(t, buf.String(), "test_org_alpha")
}

func TestServer_Routes(t *testing.T) {
	env, err := initEnv(context.Background(), testConfig(), "serve")
	require.NoError(t, err)
	defer env.Close()

	srv := newServer(env, 9999, nil)
	assert.Equal(t, ":9999", srv.Addr)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scans/last", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewAlerter(t *testing.T) {
	c := testConfig()
	c.Monitoring.FailureRateThreshold = 0.1
	c.Monitoring.ConflictBacklog = 1

	snap := &monitoring.Snapshot{
		ScansCompleted:      2,
		ScansFailed:         2,
		ScanFailRate:        0.5,
		ConflictsByPriority: map[model.Priority]int{model.PriorityHigh: 2},
	}
	alerts := newAlerter(c).Evaluate(snap)
	require.Len(t, alerts, 2)
	assert.Equal(t, monitoring.AlertScanFailureRate, alerts[0].Type)
	assert.Equal(t, monitoring.AlertConflictBacklog, alerts[1].Type)
}

func TestFormatSnapshot(t *testing.T) {
	snap := &monitoring.Snapshot{
		LookbackHours:       24,
		ScansTotal:          3,
		ScansCompleted:      2,
		ScansFailed:         1,
		ScanFailRate:        1.0 / 3.0,
		ConflictsOpen:       2,
		ConflictsByPriority: map[model.Priority]int{model.PriorityHigh: 1, model.PriorityLow: 1},
		LastScan:            &model.ScanJob{ID: "job-9", Status: model.ScanCompleted, StartedAt: time.Now()},
	}

	var buf bytes.Buffer
	formatSnapshot(&buf, snap)
	out := buf.String()
	assert.Contains(t, out, "last 24h")
	assert.Contains(t, out, "3 total, 2 completed, 1 failed")
	assert.Contains(t, out, "33.3%")
	assert.Contains(t, out, "job-9 (completed")
	assert.Contains(t, out, "high:")

	buf.Reset()
	formatSnapshot(&buf, &monitoring.Snapshot{})
	assert.Contains(t, buf.String(), "never")
}

func TestFormatConflicts(t *testing.T) {
	reviews := []model.ConflictReview{{
		ID:             "rev-1",
		EntityType:     model.EntityCompany,
		EntityName:     "Rudolf Augstein Haus",
		Field:          "name",
		CurrentValue:   "Rudolf Augstein Haus",
		SuggestedValue: "Spiegel Gruppe",
		Confidence:     0.95,
		Priority:       model.PriorityHigh,
	}}

	var buf bytes.Buffer
	formatConflicts(&buf, reviews, fixedRecommender(model.RecommendApply))

	out := buf.String()
	assert.Contains(t, out, "PRIORITY")
	assert.Contains(t, out, "rev-1")
	assert.Contains(t, out, "high")
	assert.Contains(t, out, "Spiegel Gruppe")
	assert.Contains(t, out, "0.95")
	assert.Contains(t, out, string(model.RecommendApply))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Süddeu...", truncate("Süddeutsche Zeitung", 9))
}

type fixedRecommender model.Recommendation

func (f fixedRecommender) Recommendation(*model.ConflictReview) model.Recommendation {
	return model.Recommendation(f)
}
