// Package scanjob runs scans as tracked jobs: one running job at a time,
// incremental stats, cancellation between batches.
package scanjob

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-match/internal/company"
	"github.com/sells-group/contact-match/internal/conflict"
	"github.com/sells-group/contact-match/internal/lock"
	"github.com/sells-group/contact-match/internal/metrics"
	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/publication"
	"github.com/sells-group/contact-match/internal/resilience"
	"github.com/sells-group/contact-match/internal/scan"
	"github.com/sells-group/contact-match/internal/similarity"
	"github.com/sells-group/contact-match/internal/store"
)

// DefaultStaleAfter is how long a running job may go without a stats update
// before another run may take over.
const DefaultStaleAfter = 30 * time.Minute

var (
	// ErrScanRunning is returned by Run while another job is running.
	ErrScanRunning = eris.New("scanjob: scan already running")
	// ErrNotRunning is returned when cancelling a job that has finished.
	ErrNotRunning = eris.New("scanjob: job is not running")
	// ErrTakenOver is returned when another run closed this job as stale
	// while it was still scanning.
	ErrTakenOver = eris.New("scanjob: job taken over by another run")
)

// Options describe one run.
type Options struct {
	DevelopmentMode bool
}

// Config wires thresholds and limits into each run.
type Config struct {
	Matching           similarity.Options
	MaxCompanyResults  int
	RecommendThreshold float64
	ContactPageSize    int
	Scan               scan.Config
	Retry              resilience.RetryPolicy
	Circuit            resilience.BreakerConfig
	StaleAfter         time.Duration
}

func (c Config) withDefaults() Config {
	if c.Retry.Attempts <= 0 {
		c.Retry = resilience.DefaultRetryPolicy()
	}
	if c.Circuit.Threshold <= 0 {
		c.Circuit = resilience.DefaultBreakerConfig()
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	return c
}

// Orchestrator creates, runs and finalises scan jobs.
type Orchestrator struct {
	store  store.Store
	locker lock.Locker
	cfg    Config
	now    func() time.Time
}

// New creates an Orchestrator. A nil locker guards job creation within this
// process only.
func New(s store.Store, locker lock.Locker, cfg Config) *Orchestrator {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Orchestrator{store: s, locker: locker, cfg: cfg.withDefaults(), now: time.Now}
}

// Run starts a job, scans synchronously and returns the finalised job. The
// returned error is non-nil when the job failed; the job is returned either
// way once it was created.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*model.ScanJob, error) {
	job, err := o.start(ctx, opts)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, job, opts)
}

// Start creates the job and scans in the background. The returned job is a
// snapshot taken before the scan began; poll Get or Last for progress.
func (o *Orchestrator) Start(ctx context.Context, opts Options) (*model.ScanJob, error) {
	job, err := o.start(ctx, opts)
	if err != nil {
		return nil, err
	}
	snapshot := *job
	go func() {
		// Failures are recorded on the job and logged by execute.
		_, _ = o.execute(context.WithoutCancel(ctx), job, opts)
	}()
	return &snapshot, nil
}

func (o *Orchestrator) execute(ctx context.Context, job *model.ScanJob, opts Options) (*model.ScanJob, error) {
	log := zap.L().With(zap.String("component", "scanjob"), zap.String("job_id", job.ID))
	log.Info("scanjob: started", zap.Bool("development_mode", opts.DevelopmentMode))
	metrics.ScanRunning.Inc()
	defer metrics.ScanRunning.Dec()
	start := o.now()

	matcher := similarity.NewMatcher(o.cfg.Matching)
	defer matcher.Purge()

	res, scanErr := o.scanner(matcher).Scan(ctx, scan.Params{
		JobID:           job.ID,
		DevelopmentMode: opts.DevelopmentMode,
		ShouldStop: func(ctx context.Context) bool {
			return o.stopRequested(ctx, job.ID, log)
		},
		OnBatch: func(ctx context.Context, stats model.ScanStats) {
			job.Stats = stats
			if err := o.save(ctx, job); err != nil {
				log.Warn("scanjob: failed to persist stats", zap.Error(err))
			}
		},
	})

	if res != nil {
		job.Stats = res.Stats
	}
	switch {
	case scanErr != nil && errors.Is(scanErr, context.Canceled):
		job.Status = model.ScanCancelled
	case scanErr != nil:
		job.Status = model.ScanFailed
		job.Error = scanErr.Error()
	case res.Cancelled:
		job.Status = model.ScanCancelled
	default:
		job.Status = model.ScanCompleted
	}
	completed := o.now()
	job.CompletedAt = &completed

	// Finalise even when the caller's context is gone.
	takenOver := false
	if err := o.save(context.WithoutCancel(ctx), job); err != nil {
		if errors.Is(err, store.ErrNotOpen) {
			takenOver = true
			log.Warn("scanjob: job was closed by another run", zap.String("scan_status", string(job.Status)))
			if stored, gerr := o.store.GetScanJob(context.WithoutCancel(ctx), job.ID); gerr == nil {
				job = stored
			}
		} else {
			log.Error("scanjob: failed to finalise job", zap.Error(err))
			if scanErr == nil {
				scanErr = eris.Wrapf(err, "scanjob: finalise job %s", job.ID)
			}
		}
	}

	hits, misses, size := matcher.CacheStats()
	elapsed := completed.Sub(start)
	mode := "live"
	if opts.DevelopmentMode {
		mode = "development"
	}
	metrics.ScanJobsTotal.WithLabelValues(string(job.Status), mode).Inc()
	metrics.ScanDuration.WithLabelValues(string(job.Status)).Observe(elapsed.Seconds())
	log.Info("scanjob: finished",
		zap.String("status", string(job.Status)),
		zap.Int("groups", job.Stats.GroupsEvaluated),
		zap.Int("candidates_created", job.Stats.CandidatesCreated),
		zap.Int("candidates_updated", job.Stats.CandidatesUpdated),
		zap.Int("conflicts_raised", job.Stats.ConflictsRaised),
		zap.Int("group_errors", job.Stats.GroupErrors),
		zap.Int64("cache_hits", hits),
		zap.Int64("cache_misses", misses),
		zap.Int("cache_size", size),
		zap.Duration("elapsed", elapsed),
	)

	if takenOver {
		return job, eris.Wrapf(ErrTakenOver, "job %s", job.ID)
	}
	if job.Status == model.ScanFailed {
		return job, eris.Wrapf(scanErr, "scanjob: job %s failed", job.ID)
	}
	return job, nil
}

// start creates the running job under a global lock. A running job whose
// last update is older than StaleAfter is marked failed and replaced.
func (o *Orchestrator) start(ctx context.Context, opts Options) (*model.ScanJob, error) {
	var job *model.ScanJob
	err := o.locker.WithLock(ctx, lock.Key("scanjob", "run"), func(ctx context.Context) error {
		running, err := o.store.ListScanJobs(ctx, store.ScanJobFilter{Status: model.ScanRunning})
		if err != nil {
			return eris.Wrap(err, "scanjob: list running jobs")
		}
		for i := range running {
			r := &running[i]
			if o.now().Sub(r.UpdatedAt) < o.cfg.StaleAfter {
				return eris.Wrapf(ErrScanRunning, "job %s", r.ID)
			}
			zap.L().Warn("scanjob: taking over stale job",
				zap.String("component", "scanjob"),
				zap.String("job_id", r.ID),
				zap.Time("updated_at", r.UpdatedAt),
			)
			completed := o.now()
			r.Status = model.ScanFailed
			r.Error = "stale: no progress since " + r.UpdatedAt.UTC().Format(time.RFC3339)
			r.CompletedAt = &completed
			if err := o.save(ctx, r); err != nil && !errors.Is(err, store.ErrNotOpen) {
				return eris.Wrapf(err, "scanjob: fail stale job %s", r.ID)
			}
		}

		job = &model.ScanJob{Status: model.ScanRunning, DevelopmentMode: opts.DevelopmentMode}
		return resilience.Retry(ctx, o.cfg.Retry, func(ctx context.Context) error {
			return o.store.CreateScanJob(ctx, job)
		})
	})
	if err != nil {
		if errors.Is(err, ErrScanRunning) {
			return nil, err
		}
		return nil, eris.Wrap(err, "scanjob: create job")
	}
	return job, nil
}

// scanner wires a Scanner whose finders share the run's matcher.
func (o *Orchestrator) scanner(matcher *similarity.Matcher) *scan.Scanner {
	pageSize := o.cfg.ContactPageSize
	scanCfg := o.cfg.Scan
	if scanCfg.ContactPageSize <= 0 {
		scanCfg.ContactPageSize = pageSize
	}
	return scan.New(scan.Deps{
		Store:     o.store,
		Matcher:   matcher,
		Companies: company.NewFinder(o.store, matcher, o.locker, company.WithMaxResults(o.cfg.MaxCompanyResults)),
		Publications: publication.NewFinder(o.store, matcher, o.locker, publication.Config{
			FuzzyThreshold:  matcher.PublicationThreshold(),
			ContactPageSize: pageSize,
		}),
		Conflicts: conflict.NewResolver(o.store, o.locker, o.cfg.RecommendThreshold),
		Guard:     scan.NewStoreGuard(o.cfg.Retry, o.cfg.Circuit),
	}, scanCfg)
}

// stopRequested reports whether the job was asked to cancel or is no longer
// running in the store.
func (o *Orchestrator) stopRequested(ctx context.Context, id string, log *zap.Logger) bool {
	if ctx.Err() != nil {
		return true
	}
	var job *model.ScanJob
	err := resilience.Retry(ctx, o.cfg.Retry, func(ctx context.Context) error {
		var err error
		job, err = o.store.GetScanJob(ctx, id)
		return err
	})
	if err != nil {
		log.Warn("scanjob: failed to poll cancellation", zap.Error(err))
		return false
	}
	return job.CancelRequested || job.Status != model.ScanRunning
}

func (o *Orchestrator) save(ctx context.Context, job *model.ScanJob) error {
	return resilience.Retry(ctx, o.cfg.Retry, func(ctx context.Context) error {
		return o.store.UpdateScanJob(ctx, job)
	})
}

// Last returns the most recently started job.
func (o *Orchestrator) Last(ctx context.Context) (*model.ScanJob, error) {
	job, err := o.store.LastScanJob(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "scanjob: last job")
	}
	return job, nil
}

// Get returns one job.
func (o *Orchestrator) Get(ctx context.Context, id string) (*model.ScanJob, error) {
	job, err := o.store.GetScanJob(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "scanjob: get job %s", id)
	}
	return job, nil
}

// Cancel asks a running job to stop. The scanner stops before its next batch.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	err := o.store.RequestScanCancel(ctx, id)
	if errors.Is(err, store.ErrNotOpen) {
		return eris.Wrapf(ErrNotRunning, "job %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "scanjob: cancel job %s", id)
	}
	zap.L().Info("scanjob: cancel requested", zap.String("component", "scanjob"), zap.String("job_id", id))
	return nil
}
