package sweep

import (
	"os"
	"strconv"
	"time"
)

// Defaults for orchestrator limits. Each can be overridden through the
// environment, see FromEnv.
const (
	DefaultParamSpaceMax       = 500
	DefaultConcurrencyLimitMax = 16
	DefaultTopNLimit           = 5
	DefaultMaxRetries          = 5
	DefaultRetryBase           = 2 * time.Second
)

// MaxTaskCap is the hard ceiling on materialized tasks per job, regardless
// of the Cartesian estimate.
const MaxTaskCap = 1000

// NoRetries disables the retry budget: every retryable failure fails the task
// immediately. A plain 0 in Config.MaxRetries means "unset" and gets the
// default, so an explicit zero budget must use this sentinel.
const NoRetries = -1

// Config carries the orchestrator limits. Zero fields take the defaults when
// the Config is handed to New; construct with DefaultConfig or FromEnv to see
// the effective values up front.
type Config struct {
	// ParamSpaceMax is the largest Cartesian product accepted at create.
	ParamSpaceMax int

	// ConcurrencyLimitMax bounds the per-job concurrency cap a client may
	// request.
	ConcurrencyLimitMax int

	// TopNLimit is the leaderboard length in summaries and exports.
	TopNLimit int

	// MaxRetries is the retry budget per task for retryable failures.
	// 0 means unset (the default applies); use NoRetries to disable.
	MaxRetries int

	// RetryBase is the base delay for exponential retry backoff. The kth
	// retry is scheduled RetryBase * 2^(k-1) after the failure.
	RetryBase time.Duration
}

// DefaultConfig returns the built-in limits.
func DefaultConfig() Config {
	return Config{
		ParamSpaceMax:       DefaultParamSpaceMax,
		ConcurrencyLimitMax: DefaultConcurrencyLimitMax,
		TopNLimit:           DefaultTopNLimit,
		MaxRetries:          DefaultMaxRetries,
		RetryBase:           DefaultRetryBase,
	}
}

// FromEnv builds a Config from the environment:
//
//	OPT_PARAM_SPACE_MAX        max Cartesian product (default 500, min 1)
//	OPT_CONCURRENCY_LIMIT_MAX  max per-job concurrency (default 16, min 1)
//	OPT_TOP_N_LIMIT            leaderboard length (default 5, min 1)
//	OPT_MAX_RETRIES            retry budget (default 5, 0 disables retries)
//	OPT_RETRY_BASE_SECONDS     backoff base in seconds (default 2, min 1)
//
// Unset or malformed values fall back to the default for that variable.
func FromEnv() Config {
	cfg := DefaultConfig()
	cfg.ParamSpaceMax = envInt("OPT_PARAM_SPACE_MAX", DefaultParamSpaceMax, 1)
	cfg.ConcurrencyLimitMax = envInt("OPT_CONCURRENCY_LIMIT_MAX", DefaultConcurrencyLimitMax, 1)
	cfg.TopNLimit = envInt("OPT_TOP_N_LIMIT", DefaultTopNLimit, 1)
	cfg.MaxRetries = envInt("OPT_MAX_RETRIES", DefaultMaxRetries, 0)
	if cfg.MaxRetries == 0 {
		// An explicit OPT_MAX_RETRIES=0 means no retries, not "unset".
		cfg.MaxRetries = NoRetries
	}
	cfg.RetryBase = time.Duration(envInt("OPT_RETRY_BASE_SECONDS", 2, 1)) * time.Second
	return cfg
}

// sanitize fills zero fields with defaults so that a partially built Config
// (common in tests) behaves.
func (c Config) sanitize() Config {
	d := DefaultConfig()
	if c.ParamSpaceMax <= 0 {
		c.ParamSpaceMax = d.ParamSpaceMax
	}
	if c.ConcurrencyLimitMax <= 0 {
		c.ConcurrencyLimitMax = d.ConcurrencyLimitMax
	}
	if c.TopNLimit <= 0 {
		c.TopNLimit = d.TopNLimit
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	return c
}

func envInt(name string, fallback, floor int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value < floor {
		return floor
	}
	return value
}
