package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-match/internal/config"
	"github.com/sells-group/contact-match/internal/conflict"
	"github.com/sells-group/contact-match/internal/lock"
	"github.com/sells-group/contact-match/internal/monitoring"
	"github.com/sells-group/contact-match/internal/resilience"
	"github.com/sells-group/contact-match/internal/scan"
	"github.com/sells-group/contact-match/internal/scanjob"
	"github.com/sells-group/contact-match/internal/seed"
	"github.com/sells-group/contact-match/internal/similarity"
	"github.com/sells-group/contact-match/internal/store"
)

// appEnv holds the services a command needs.
type appEnv struct {
	Store     store.Store
	Scans     *scanjob.Orchestrator
	Conflicts *conflict.Resolver
	Seeder    *seed.Seeder

	closers []func() error
}

// Close releases the store and lock connections.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

// initEnv validates config for mode, opens the store, applies migrations and
// wires the services.
func initEnv(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, closers: []func() error{st.Close}}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	locker, closeLock, err := initLocker(ctx, c.Lock, c.Redis)
	if err != nil {
		env.Close()
		return nil, err
	}
	if closeLock != nil {
		env.closers = append(env.closers, closeLock)
	}

	env.Scans = scanjob.New(st, locker, scanJobConfig(c))
	env.Conflicts = conflict.NewResolver(st, locker, c.Matching.RecommendThreshold)
	env.Seeder = seed.New(st)
	return env, nil
}

func initStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	switch c.Driver {
	case "memory":
		zap.L().Warn("using in-memory store; data is lost on exit")
		return store.NewMemory(), nil
	case "sqlite":
		dsn := c.DatabaseURL
		if dsn == "" {
			dsn = "match.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.DatabaseURL, &store.PoolConfig{MaxConns: c.MaxConns, MinConns: c.MinConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Driver)
	}
}

// initLocker returns the keyed locker and, for redis, a close func.
func initLocker(ctx context.Context, c config.LockConfig, r config.RedisConfig) (lock.Locker, func() error, error) {
	switch c.Driver {
	case "", "local":
		return lock.NewLocal(), nil, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, eris.Wrapf(err, "redis: ping %s", r.Addr)
		}
		return lock.NewRedis(rdb, lock.RedisOptions{
			Prefix:  c.Prefix,
			TTL:     time.Duration(c.TTLSecs) * time.Second,
			Timeout: time.Duration(c.TimeoutSecs) * time.Second,
		}), rdb.Close, nil
	default:
		return nil, nil, eris.Errorf("unsupported lock driver: %s", c.Driver)
	}
}

// newAlerter maps monitoring configuration onto an alerter.
func newAlerter(c *config.Config) *monitoring.Alerter {
	return monitoring.NewAlerter(monitoring.Thresholds{
		FailureRate:         c.Monitoring.FailureRateThreshold,
		HighPriorityBacklog: c.Monitoring.ConflictBacklog,
		StuckAfter:          time.Duration(c.Scan.StaleAfterMins) * time.Minute,
	}, c.Monitoring.WebhookURL)
}

// scanJobConfig maps configuration onto the orchestrator.
func scanJobConfig(c *config.Config) scanjob.Config {
	return scanjob.Config{
		Matching: similarity.Options{
			CompanyThreshold:     c.Matching.CompanyThreshold,
			PublicationThreshold: c.Matching.PublicationThreshold,
			CacheSize:            c.Matching.CacheSize,
		},
		MaxCompanyResults:  c.Matching.MaxCompanyResults,
		RecommendThreshold: c.Matching.RecommendThreshold,
		ContactPageSize:    c.Matching.ContactPageSize,
		Scan: scan.Config{
			Concurrency:     c.Scan.Concurrency,
			BatchSize:       c.Scan.BatchSize,
			ContactPageSize: c.Matching.ContactPageSize,
			NameThreshold:   c.Scan.NameThreshold,
			RatePerSecond:   c.Scan.RateLimitPerSec,
		},
		Retry: resilience.NewRetryPolicy(
			c.Scan.RetryMaxAttempts,
			time.Duration(c.Scan.RetryInitialBackoffMs)*time.Millisecond,
			time.Duration(c.Scan.RetryMaxBackoffMs)*time.Millisecond,
		),
		Circuit: resilience.NewBreakerConfig(
			c.Scan.CircuitFailureThreshold,
			time.Duration(c.Scan.CircuitResetSecs)*time.Second,
		),
		StaleAfter: time.Duration(c.Scan.StaleAfterMins) * time.Minute,
	}
}
