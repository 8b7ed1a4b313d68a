// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Loading layers defaults, an optional YAML file and CALMMIND_ env vars.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/okian/calmmind/internal/domain/model"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
	StoreSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Store selects the cohort stats backend: memory, redis, mongo, sqlite.
	Store string `koanf:"store"`

	RedisAddr     string `koanf:"redis_addr"`
	MongoURI      string `koanf:"mongo_uri"`
	MongoDatabase string `koanf:"mongo_database"`
	SQLitePath    string `koanf:"sqlite_path"`

	// MaxCommitRetries bounds the read-modify-write loop per submission.
	MaxCommitRetries int `koanf:"max_commit_retries"`

	// DedupeSize sets the size of the idempotency key cache.
	DedupeSize int `koanf:"dedupe_size"`

	// AuditQueueSize bounds the in-memory submission audit queue.
	AuditQueueSize int `koanf:"audit_queue_size"`

	// AuditWorkers sets the number of audit writers.
	AuditWorkers int `koanf:"audit_workers"`

	// AuditMemoryLimit caps the audit records kept by the memory and
	// redis stores; older records are dropped first.
	AuditMemoryLimit int `koanf:"audit_memory_limit"`

	// TuningURL is the endpoint used by the tuning client.
	TuningURL string `koanf:"tuning_url"`

	// TuningTimeoutMS bounds a single client call to the tuning endpoint.
	TuningTimeoutMS int `koanf:"tuning_timeout_ms"`

	// Tracing enables the stdout span exporter.
	Tracing bool `koanf:"tracing"`

	// Risk is the scoring config served by the API and used by the CLI.
	Risk model.ScoringConfig `koanf:"risk"`
}

// DefaultRisk returns the stock scoring config.
func DefaultRisk() model.ScoringConfig {
	return model.ScoringConfig{
		Weights: map[string]float64{
			"screenMinutes":         0.35,
			"longestSessionMinutes": 0.25,
			"pickups":               0.15,
			"notifications":         0.1,
			"bedtimeModeUsed":       -0.4,
			"dndMinutes":            -0.2,
			"stressMeetings":        0.2,
			"pressureDrop":          0.3,
			"stormAlert":            0.25,
		},
		Bias:          -1,
		RiskThreshold: 0.7,
	}
}

// New creates a Config with defaults. Context is accepted first to follow
// the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		Store:            StoreMemory,
		RedisAddr:        "localhost:6379",
		MongoURI:         "mongodb://localhost:27017",
		MongoDatabase:    "calmmind",
		SQLitePath:       "calmmind.db",
		MaxCommitRetries: 64,
		DedupeSize:       100_000,
		AuditQueueSize:   10_000,
		AuditWorkers:     runtime.NumCPU(),
		AuditMemoryLimit: 10_000,
		TuningURL:        "http://localhost:9080/tuning",
		TuningTimeoutMS:  5000,
		Risk:             DefaultRisk(),
	}
}

// TuningTimeout returns TuningTimeoutMS as a duration.
func (c *Config) TuningTimeout() time.Duration {
	return time.Duration(c.TuningTimeoutMS) * time.Millisecond
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.Risk.RiskThreshold < 0 || c.Risk.RiskThreshold > 1 {
		return fmt.Errorf("%w: risk threshold %v outside [0,1]", ErrInvalidConfig, c.Risk.RiskThreshold)
	}
	switch c.Store {
	case StoreMemory, StoreRedis, StoreMongo, StoreSQLite:
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	if c.MaxCommitRetries < 1 {
		return fmt.Errorf("%w: max_commit_retries must be positive", ErrInvalidConfig)
	}
	if c.AuditWorkers < 1 {
		return fmt.Errorf("%w: audit_workers must be positive", ErrInvalidConfig)
	}
	if c.AuditMemoryLimit < 1 {
		return fmt.Errorf("%w: audit_memory_limit must be positive", ErrInvalidConfig)
	}
	return nil
}
