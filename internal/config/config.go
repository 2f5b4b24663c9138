// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/modian-insight/internal/changes"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Store     StoreConfig     `mapstructure:"store"`
	Retention RetentionConfig `mapstructure:"retention"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	DB        DBConfig        `mapstructure:"db"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ReadHeaderTimeoutSec   int `mapstructure:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the orchestrator and the remote fetch client.
type CrawlerConfig struct {
	DefaultDelayMs    int     `mapstructure:"default_delay_ms"`
	MinDelayMs        int     `mapstructure:"min_delay_ms"`
	MaxDelayMs        int     `mapstructure:"max_delay_ms"`
	Concurrency       int     `mapstructure:"concurrency"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxTargets        int     `mapstructure:"max_targets"`
	UserAgent         string  `mapstructure:"user_agent"`
	BaseURL           string  `mapstructure:"base_url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// StorageConfig selects the artifact backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	DataDir   string `mapstructure:"data_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	KeepRaw   bool   `mapstructure:"keep_raw"`
}

// StoreConfig tunes the versioned project store.
type StoreConfig struct {
	SignificantFields     []string `mapstructure:"significant_fields"`
	Fingerprint           bool     `mapstructure:"fingerprint"`
	RebuildOnCorruptIndex bool     `mapstructure:"rebuild_on_corrupt_index"`
}

// RetentionConfig controls scheduled version cleanup.
type RetentionConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Days     int    `mapstructure:"days"`
	Schedule string `mapstructure:"schedule"`
}

// PubSubConfig holds metadata for version notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls access to the crawl-run diagnostics database.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
	MaxConns    int32  `mapstructure:"max_conns"`
	Migrate     bool   `mapstructure:"migrate"`
}

// ProgressConfig tunes the progress hub and toggles its sinks.
type ProgressConfig struct {
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int  `mapstructure:"sink_timeout_ms"`
	LogSink        bool `mapstructure:"log_sink"`
	PrometheusSink bool `mapstructure:"prometheus_sink"`
	RunsSink       bool `mapstructure:"runs_sink"`
}

// Storage backends.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INSIGHT")
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
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_header_timeout_seconds", 10)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawler.default_delay_ms", 1000)
	v.SetDefault("crawler.min_delay_ms", 500)
	v.SetDefault("crawler.max_delay_ms", 5000)
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.max_targets", 1_000_000)
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.base_url", "https://zhongchou.modian.com")
	v.SetDefault("crawler.requests_per_second", 2.0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.keep_raw", true)
	v.SetDefault("store.significant_fields", changes.DefaultSignificantFields)
	v.SetDefault("store.fingerprint", true)
	v.SetDefault("store.rebuild_on_corrupt_index", true)
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.schedule", "0 0 3 * * *")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("db.table_prefix", "")
	v.SetDefault("db.migrate", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 500)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10_000)
	v.SetDefault("progress.log_sink", true)
	v.SetDefault("progress.prometheus_sink", true)
	v.SetDefault("progress.runs_sink", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	cr := c.Crawler
	if cr.MinDelayMs < 0 || cr.MaxDelayMs <= 0 || cr.MinDelayMs > cr.MaxDelayMs {
		return fmt.Errorf("crawler delay bounds must satisfy 0 <= min_delay_ms <= max_delay_ms and max > 0")
	}
	if cr.DefaultDelayMs < cr.MinDelayMs || cr.DefaultDelayMs > cr.MaxDelayMs {
		return fmt.Errorf("crawler.default_delay_ms must lie within [min_delay_ms, max_delay_ms]")
	}
	if cr.Concurrency != 1 {
		return fmt.Errorf("crawler.concurrency must be 1, got %d", cr.Concurrency)
	}
	if cr.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if cr.MaxTargets <= 0 {
		return fmt.Errorf("crawler.max_targets must be > 0")
	}
	if cr.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Storage.DataDir) == "" {
			return fmt.Errorf("storage.data_dir is required for the local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, memory, gcs; got %q", c.Storage.Backend)
	}
	for _, f := range c.Store.SignificantFields {
		if !knownField(f) {
			return fmt.Errorf("store.significant_fields: unknown field %q", f)
		}
	}
	if c.Retention.Days < 1 {
		return fmt.Errorf("retention.days must be >= 1")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	return nil
}

func knownField(name string) bool {
	for _, f := range changes.AllFields {
		if f == name {
			return true
		}
	}
	return false
}

// DefaultDelay returns the configured pacing delay.
func (c CrawlerConfig) DefaultDelay() time.Duration {
	return time.Duration(c.DefaultDelayMs) * time.Millisecond
}

// MinDelay returns the smallest accepted pacing delay.
func (c CrawlerConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelayMs) * time.Millisecond
}

// MaxDelay returns the largest accepted pacing delay.
func (c CrawlerConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// Timeout returns the per-fetch budget.
func (c CrawlerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MaxBatchWait returns the hub flush interval.
func (c ProgressConfig) MaxBatchWait() time.Duration {
	return time.Duration(c.MaxBatchWaitMs) * time.Millisecond
}

// SinkTimeout returns the per-sink flush budget.
func (c ProgressConfig) SinkTimeout() time.Duration {
	return time.Duration(c.SinkTimeoutMs) * time.Millisecond
}
