package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings a command needs. Mode is one of scan, serve,
// worker, seed or migrate.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "scan", "seed", "migrate":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Monitoring.Enabled {
			if c.Monitoring.LookbackHours <= 0 {
				errs = append(errs, "monitoring.lookback_hours must be > 0")
			}
			if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
				errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
			}
		}
	case "worker":
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
		if c.Temporal.TaskQueue == "" {
			errs = append(errs, "temporal.task_queue is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, postgres, sqlite", c.Store.Driver))
	}

	switch c.Lock.Driver {
	case "local":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis lock driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("lock.driver %q is not one of local, redis", c.Lock.Driver))
	}

	if !inRange(c.Matching.CompanyThreshold, 1, 100) {
		errs = append(errs, "matching.company_threshold must be between 1 and 100")
	}
	if !inRange(c.Matching.PublicationThreshold, 1, 100) {
		errs = append(errs, "matching.publication_threshold must be between 1 and 100")
	}
	if c.Matching.RecommendThreshold <= 0 || c.Matching.RecommendThreshold > 1 {
		errs = append(errs, "matching.recommend_threshold must be in (0, 1]")
	}
	if c.Matching.CacheSize < 0 {
		errs = append(errs, "matching.cache_size must be >= 0")
	}
	if !inRange(c.Scan.Concurrency, 1, 64) {
		errs = append(errs, "scan.concurrency must be between 1 and 64")
	}
	if c.Scan.BatchSize <= 0 {
		errs = append(errs, "scan.batch_size must be > 0")
	}
	if c.Scan.RateLimitPerSec < 0 {
		errs = append(errs, "scan.rate_limit_per_sec must be >= 0")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func inRange(v, lo, hi int) bool {
	return v >= lo && v <= hi
}
