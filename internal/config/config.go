package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Matching   MatchingConfig   `yaml:"matching" mapstructure:"matching"`
	Scan       ScanConfig       `yaml:"scan" mapstructure:"scan"`
	Lock       LockConfig       `yaml:"lock" mapstructure:"lock"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// MatchingConfig holds similarity thresholds and lookup limits.
type MatchingConfig struct {
	CompanyThreshold     int     `yaml:"company_threshold" mapstructure:"company_threshold"`
	PublicationThreshold int     `yaml:"publication_threshold" mapstructure:"publication_threshold"`
	RecommendThreshold   float64 `yaml:"recommend_threshold" mapstructure:"recommend_threshold"`
	CacheSize            int     `yaml:"cache_size" mapstructure:"cache_size"`
	MaxCompanyResults    int     `yaml:"max_company_results" mapstructure:"max_company_results"`
	ContactPageSize      int     `yaml:"contact_page_size" mapstructure:"contact_page_size"`
}

// ScanConfig configures scan scheduling and storage resilience.
type ScanConfig struct {
	Concurrency             int     `yaml:"concurrency" mapstructure:"concurrency"`
	BatchSize               int     `yaml:"batch_size" mapstructure:"batch_size"`
	NameThreshold           int     `yaml:"name_threshold" mapstructure:"name_threshold"`
	RateLimitPerSec         float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	RetryMaxAttempts        int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMs   int     `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs       int     `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
	StaleAfterMins          int     `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
}

// LockConfig selects the keyed lock used around create-if-absent.
type LockConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Prefix      string `yaml:"prefix" mapstructure:"prefix"`
	TTLSecs     int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RedisConfig holds the Redis connection used by the redis lock driver.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// TemporalConfig configures the scan worker and its schedule.
type TemporalConfig struct {
	HostPort     string `yaml:"host_port" mapstructure:"host_port"`
	Namespace    string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue    string `yaml:"task_queue" mapstructure:"task_queue"`
	ScheduleID   string `yaml:"schedule_id" mapstructure:"schedule_id"`
	ScheduleCron string `yaml:"schedule_cron" mapstructure:"schedule_cron"`
}

// ServerConfig configures the admin API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures background health checks run by serve.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ConflictBacklog      int     `yaml:"conflict_backlog" mapstructure:"conflict_backlog"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key is listed so environment overrides reach Unmarshal.
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("matching.company_threshold", 85)
	v.SetDefault("matching.publication_threshold", 80)
	v.SetDefault("matching.recommend_threshold", 0.8)
	v.SetDefault("matching.cache_size", 10000)
	v.SetDefault("matching.max_company_results", 5)
	v.SetDefault("matching.contact_page_size", 500)
	v.SetDefault("scan.concurrency", 4)
	v.SetDefault("scan.batch_size", 50)
	v.SetDefault("scan.name_threshold", 85)
	v.SetDefault("scan.rate_limit_per_sec", 0)
	v.SetDefault("scan.retry_max_attempts", 3)
	v.SetDefault("scan.retry_initial_backoff_ms", 200)
	v.SetDefault("scan.retry_max_backoff_ms", 5000)
	v.SetDefault("scan.circuit_failure_threshold", 5)
	v.SetDefault("scan.circuit_reset_secs", 30)
	v.SetDefault("scan.stale_after_mins", 30)
	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.prefix", "match:lock:")
	v.SetDefault("lock.ttl_secs", 30)
	v.SetDefault("lock.timeout_secs", 10)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "contact-match")
	v.SetDefault("temporal.schedule_id", "contact-match-scan")
	v.SetDefault("temporal.schedule_cron", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.conflict_backlog", 100)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
