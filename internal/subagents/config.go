// Package subagents implements the durable, bounded FIFO coordinator for
// recursive child agent runs: a file- or memory-backed store with restart
// recovery, a pump bounded by a concurrency cap, per-parent run limits,
// depth limits, and cooperative cancellation.
package subagents

import (
	"os"
	"strconv"
	"time"
)

// Store modes.
const (
	StoreModeFile   = "file"
	StoreModeMemory = "memory"
)

// Config bounds the coordinator. Zero values are replaced by defaults.
type Config struct {
	MaxDepth               int
	MaxConcurrency         int
	MaxActiveRunsPerParent int
	DefaultTimeout         time.Duration
	MaxTimeout             time.Duration
	MaxTaskChars           int
	MaxRunOutputChars      int
	FinishedRunRetention   time.Duration
	MaxListedRuns          int
	StoreMode              string
	StorePath              string
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxDepth:               3,
		MaxConcurrency:         3,
		MaxActiveRunsPerParent: 12,
		DefaultTimeout:         120 * time.Second,
		MaxTimeout:             600 * time.Second,
		MaxTaskChars:           12_000,
		MaxRunOutputChars:      80_000,
		FinishedRunRetention:   24 * time.Hour,
		MaxListedRuns:          100,
		StoreMode:              StoreModeFile,
		StorePath:              "data/subagents/runs.json",
	}
}

// ConfigFromEnv applies SUBAGENT_* environment overrides on top of the
// defaults. Unparseable values are ignored.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	envInt("SUBAGENT_MAX_DEPTH", &cfg.MaxDepth)
	envInt("SUBAGENT_MAX_CONCURRENCY", &cfg.MaxConcurrency)
	envInt("SUBAGENT_MAX_ACTIVE_RUNS_PER_PARENT", &cfg.MaxActiveRunsPerParent)
	envMillis("SUBAGENT_DEFAULT_TIMEOUT_MS", &cfg.DefaultTimeout)
	envMillis("SUBAGENT_MAX_TIMEOUT_MS", &cfg.MaxTimeout)
	envInt("SUBAGENT_MAX_TASK_CHARS", &cfg.MaxTaskChars)
	envInt("SUBAGENT_MAX_OUTPUT_CHARS", &cfg.MaxRunOutputChars)
	envMillis("SUBAGENT_RUN_RETENTION_MS", &cfg.FinishedRunRetention)
	envInt("SUBAGENT_MAX_LISTED_RUNS", &cfg.MaxListedRuns)
	if v := os.Getenv("SUBAGENT_STORE_MODE"); v == StoreModeFile || v == StoreModeMemory {
		cfg.StoreMode = v
	}
	if v := os.Getenv("SUBAGENT_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	return cfg
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.MaxActiveRunsPerParent <= 0 {
		c.MaxActiveRunsPerParent = d.MaxActiveRunsPerParent
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = d.MaxTimeout
	}
	if c.MaxTaskChars <= 0 {
		c.MaxTaskChars = d.MaxTaskChars
	}
	if c.MaxRunOutputChars <= 0 {
		c.MaxRunOutputChars = d.MaxRunOutputChars
	}
	if c.FinishedRunRetention <= 0 {
		c.FinishedRunRetention = d.FinishedRunRetention
	}
	if c.MaxListedRuns <= 0 {
		c.MaxListedRuns = d.MaxListedRuns
	}
	if c.StoreMode == "" {
		c.StoreMode = d.StoreMode
	}
	return c
}

// clampTimeout resolves an await timeout against the configured bounds.
func (c Config) clampTimeout(t time.Duration) time.Duration {
	if t <= 0 {
		return c.DefaultTimeout
	}
	if t > c.MaxTimeout {
		return c.MaxTimeout
	}
	return t
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = n
	}
}

func envMillis(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = time.Duration(n) * time.Millisecond
	}
}
