// Package config loads and validates tracker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/serp-rank-tracker/internal/alerts"
	"github.com/JakeFAU/serp-rank-tracker/internal/credentials"
	"github.com/JakeFAU/serp-rank-tracker/internal/engine"
	"github.com/JakeFAU/serp-rank-tracker/internal/history"
	"github.com/JakeFAU/serp-rank-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/serp-rank-tracker/internal/progress"
	"github.com/JakeFAU/serp-rank-tracker/internal/storage/postgres"
)

// EnvPrefix namespaces environment overrides, e.g. SERPTRACKER_SERVER_PORT.
const EnvPrefix = "SERPTRACKER"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Search      SearchConfig      `mapstructure:"search"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	History     HistoryConfig     `mapstructure:"history"`
	Report      ReportConfig      `mapstructure:"report"`
	Projects    ProjectsConfig    `mapstructure:"projects"`
	Database    DatabaseConfig    `mapstructure:"database"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Workers     WorkersConfig     `mapstructure:"workers"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SearchConfig tunes the search API client and request pacing.
type SearchConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ResultsPerPage  int           `mapstructure:"results_per_page"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	BackoffInitial  time.Duration `mapstructure:"backoff_initial"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	RetryMultiplier int           `mapstructure:"retry_multiplier"`
	KeywordPauseMin time.Duration `mapstructure:"keyword_pause_min"`
	KeywordPauseMax time.Duration `mapstructure:"keyword_pause_max"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

// CredentialsConfig governs key rotation.
type CredentialsConfig struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// HistoryConfig selects the history backend and its retention.
type HistoryConfig struct {
	Backend    string `mapstructure:"backend"`
	Dir        string `mapstructure:"dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MaxEntries int    `mapstructure:"max_entries"`
	LostWindow int    `mapstructure:"lost_window"`
}

// ReportConfig selects where workbooks are written.
type ReportConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// ProjectsConfig points at the project definitions file.
type ProjectsConfig struct {
	File string `mapstructure:"file"`
}

// DatabaseConfig controls access to Postgres for history and runs.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	HistoryTable    string        `mapstructure:"history_table"`
	RunsTable       string        `mapstructure:"runs_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for run-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AlertsConfig tunes change alerts.
type AlertsConfig struct {
	MinKeywords   int     `mapstructure:"min_keywords"`
	DropThreshold float64 `mapstructure:"drop_threshold"`
}

// ScheduleConfig enables periodic runs.
type ScheduleConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Spec     string   `mapstructure:"spec"`
	Projects []string `mapstructure:"projects"`
}

// WorkersConfig sizes the run queue and worker pool.
type WorkersConfig struct {
	Count      int    `mapstructure:"count"`
	QueueDepth int    `mapstructure:"queue_depth"`
	RunStore   string `mapstructure:"run_store"`
}

// ProgressConfig controls progress event batching.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from .env files, disk and environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := engine.DefaultConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("search.endpoint", "https://google.serper.dev/search")
	v.SetDefault("search.timeout", defaults.RequestTimeout.String())
	v.SetDefault("search.results_per_page", defaults.ResultsPerPage)
	v.SetDefault("search.max_concurrent", defaults.MaxConcurrent)
	v.SetDefault("search.backoff_initial", defaults.BackoffInitial.String())
	v.SetDefault("search.backoff_max", defaults.BackoffMax.String())
	v.SetDefault("search.retry_multiplier", defaults.RetryMultiplier)
	v.SetDefault("search.keyword_pause_min", defaults.KeywordPauseMin.String())
	v.SetDefault("search.keyword_pause_max", defaults.KeywordPauseMax.String())
	v.SetDefault("search.rate_limit_rps", 0)
	v.SetDefault("search.rate_limit_burst", 1)
	v.SetDefault("credentials.max_failures", credentials.DefaultMaxFailures)
	v.SetDefault("credentials.cooldown", credentials.DefaultCooldown.String())
	v.SetDefault("history.backend", BackendFile)
	v.SetDefault("history.dir", "data/history")
	v.SetDefault("history.sqlite_path", "data/history.db")
	v.SetDefault("history.max_entries", history.DefaultMaxEntries)
	v.SetDefault("history.lost_window", history.DefaultLostWindow)
	v.SetDefault("report.backend", BackendLocal)
	v.SetDefault("report.dir", "data/reports")
	v.SetDefault("report.bucket", "")
	v.SetDefault("report.prefix", "reports")
	v.SetDefault("projects.file", "projects.json")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.history_table", "serp_history")
	v.SetDefault("database.runs_table", "serp_runs")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("alerts.min_keywords", alerts.DefaultMinKeywords)
	v.SetDefault("alerts.drop_threshold", alerts.DefaultDropThreshold)
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.spec", "0 */3 * * *")
	v.SetDefault("schedule.projects", []string{})
	v.SetDefault("workers.count", 2)
	v.SetDefault("workers.queue_depth", 64)
	v.SetDefault("workers.run_store", BackendMemory)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("progress.sink_timeout", "10s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Search.ResultsPerPage <= 0 {
		return fmt.Errorf("search.results_per_page must be > 0")
	}
	if c.Search.MaxConcurrent <= 0 {
		return fmt.Errorf("search.max_concurrent must be > 0")
	}
	if c.Search.RetryMultiplier <= 0 {
		return fmt.Errorf("search.retry_multiplier must be > 0")
	}
	if c.Search.KeywordPauseMax < c.Search.KeywordPauseMin {
		return fmt.Errorf("search.keyword_pause_max must be >= keyword_pause_min")
	}
	if c.History.LostWindow <= 0 || c.History.MaxEntries <= 0 {
		return fmt.Errorf("history.max_entries and history.lost_window must be > 0")
	}
	switch c.History.Backend {
	case BackendMemory, BackendFile, BackendSQLite:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres history backend")
		}
	default:
		return fmt.Errorf("history.backend %q is not one of memory, file, sqlite, postgres", c.History.Backend)
	}
	switch c.Report.Backend {
	case BackendMemory, BackendLocal:
	case BackendGCS:
		if c.Report.Bucket == "" {
			return fmt.Errorf("report.bucket must be set for the gcs report backend")
		}
	default:
		return fmt.Errorf("report.backend %q is not one of memory, local, gcs", c.Report.Backend)
	}
	switch c.Workers.RunStore {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres run store")
		}
	default:
		return fmt.Errorf("workers.run_store %q is not one of memory, postgres", c.Workers.RunStore)
	}
	if c.Workers.Count <= 0 || c.Workers.QueueDepth <= 0 {
		return fmt.Errorf("workers.count and workers.queue_depth must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	if c.Alerts.DropThreshold <= 0 || c.Alerts.DropThreshold > 1 {
		return fmt.Errorf("alerts.drop_threshold must be in (0, 1]")
	}
	if c.Projects.File == "" {
		return fmt.Errorf("projects.file must be set")
	}
	return nil
}

// EngineConfig converts search and credential settings for the fetch engine.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		ResultsPerPage:  c.Search.ResultsPerPage,
		MaxConcurrent:   c.Search.MaxConcurrent,
		RequestTimeout:  c.Search.Timeout,
		BackoffInitial:  c.Search.BackoffInitial,
		BackoffMax:      c.Search.BackoffMax,
		RetryMultiplier: c.Search.RetryMultiplier,
		KeywordPauseMin: c.Search.KeywordPauseMin,
		KeywordPauseMax: c.Search.KeywordPauseMax,
		Credentials: credentials.Config{
			MaxFailures: c.Credentials.MaxFailures,
			Cooldown:    c.Credentials.Cooldown,
		},
	}
}

// RateLimit converts the pacing settings for the per-credential limiter.
func (c Config) RateLimit() ratelimit.Config {
	return ratelimit.Config{RPS: c.Search.RateLimitRPS, Burst: c.Search.RateLimitBurst}
}

// HistoryRetention converts retention settings for the history tracker.
func (c Config) HistoryRetention() history.Config {
	return history.Config{MaxEntries: c.History.MaxEntries, LostWindow: c.History.LostWindow}
}

// AlertRules converts alert thresholds.
func (c Config) AlertRules() alerts.Config {
	return alerts.Config{MinKeywords: c.Alerts.MinKeywords, DropThreshold: c.Alerts.DropThreshold}
}

// Postgres converts database settings for the Postgres stores.
func (c Config) Postgres() postgres.Config {
	return postgres.Config{
		DSN:             c.Database.DSN,
		HistoryTable:    c.Database.HistoryTable,
		RunsTable:       c.Database.RunsTable,
		MaxConns:        c.Database.MaxConns,
		MinConns:        c.Database.MinConns,
		MaxConnLifetime: c.Database.MaxConnLifetime,
	}
}

// HubConfig converts progress batching settings.
func (c Config) HubConfig() progress.Config {
	return progress.Config{
		BufferSize:     c.Progress.BufferSize,
		MaxBatchEvents: c.Progress.MaxBatchEvents,
		MaxBatchWait:   c.Progress.MaxBatchWait,
		SinkTimeout:    c.Progress.SinkTimeout,
	}
}
