// Package config loads service configuration from environment variables
// and optional per-network YAML profiles.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds service configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string

	Ledger    Ledger
	Scheduler Scheduler
	Reconcile Reconcile
	Workflow  Workflow
	API       API

	MetricsEnabled bool
}

// Ledger configures the node client and submission policy.
type Ledger struct {
	Enabled     bool
	NodeURL     string
	ExplorerURL string
	Network     string
	TagPrefix   string
	TagVersion  string

	// MinNodeVersion rejects nodes older than this semver during connect.
	MinNodeVersion string

	RequestTimeout time.Duration
	APITimeout     time.Duration

	RetryCount    int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration

	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
}

// Tag returns the full payload tag, e.g. "ARED_ANCHOR_v1".
func (l Ledger) Tag() string {
	return l.TagPrefix + "_" + l.TagVersion
}

// Scheduler configures the daily anchor job and reconciliation cadence.
type Scheduler struct {
	Enabled bool
	Hour    int
	Minute  int

	// Incremental fires the catch-up anchor job at this cadence. Zero
	// leaves the job off.
	Incremental time.Duration

	// RedisURL enables a cross-replica leader lock when set.
	RedisURL string
}

// Reconcile configures the stuck-anchor recovery loop.
type Reconcile struct {
	Interval    time.Duration
	MinAge      time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Workflow configures anchor job behavior.
type Workflow struct {
	// MinEvents gates incremental runs; windows with fewer events are skipped.
	MinEvents int

	// EventFilter is an optional CEL expression evaluated per event.
	EventFilter string

	// PalletFilter restricts the event window to a single pallet when set.
	PalletFilter string
}

// API configures the HTTP surface.
type API struct {
	// JWTSecret protects mutating endpoints when set; empty disables auth.
	JWTSecret string

	// SigningSecret seeds the proof bundle signing key.
	SigningSecret string

	RateLimitRPS   float64
	RateLimitBurst int
}

var validNetworks = map[string]bool{
	"mainnet": true,
	"shimmer": true,
	"testnet": true,
	"devnet":  true,
}

// Load reads configuration from environment variables, applying defaults
// for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getenv("PORT", "8082"),
		LogLevel:    getenv("LOG_LEVEL", "INFO"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		Ledger: Ledger{
			Enabled:             boolEnv("IOTA_ENABLED", true),
			NodeURL:             getenv("IOTA_NODE_URL", "https://api.testnet.shimmer.network"),
			ExplorerURL:         getenv("IOTA_EXPLORER_URL", "https://explorer.shimmer.network/testnet"),
			Network:             strings.ToLower(getenv("IOTA_NETWORK", "testnet")),
			TagPrefix:           getenv("IOTA_TAG_PREFIX", "ARED_ANCHOR"),
			TagVersion:          getenv("IOTA_TAG_VERSION", "v1"),
			MinNodeVersion:      getenv("IOTA_MIN_NODE_VERSION", ""),
			RequestTimeout:      durationEnv("IOTA_REQUEST_TIMEOUT", 30*time.Second),
			APITimeout:          durationEnv("IOTA_API_TIMEOUT", 60*time.Second),
			RetryCount:          intEnv("IOTA_RETRY_COUNT", 3),
			RetryDelay:          durationEnv("IOTA_RETRY_DELAY", time.Second),
			RetryMaxDelay:       durationEnv("IOTA_RETRY_MAX_DELAY", 30*time.Second),
			ConfirmationTimeout: durationEnv("IOTA_CONFIRMATION_TIMEOUT", 300*time.Second),
			PollInterval:        durationEnv("IOTA_CONFIRMATION_POLL_INTERVAL", 5*time.Second),
		},
		Scheduler: Scheduler{
			Enabled:     boolEnv("SCHEDULER_ENABLED", true),
			Hour:        intEnv("ANCHOR_SCHEDULE_HOUR", 0),
			Minute:      intEnv("ANCHOR_SCHEDULE_MINUTE", 0),
			Incremental: durationEnv("ANCHOR_INCREMENTAL_INTERVAL", 0),
			RedisURL:    getenv("REDIS_URL", ""),
		},
		Reconcile: Reconcile{
			Interval:    durationEnv("RECONCILE_INTERVAL", 15*time.Minute),
			MaxRetries:  intEnv("RECONCILE_MAX_RETRIES", 3),
			BackoffBase: durationEnv("RECONCILE_BACKOFF_BASE", 60*time.Second),
			BackoffCap:  durationEnv("RECONCILE_BACKOFF_CAP", 3600*time.Second),
		},
		Workflow: Workflow{
			MinEvents:    intEnv("ANCHOR_MIN_EVENTS", 100),
			EventFilter:  getenv("ANCHOR_EVENT_FILTER", ""),
			PalletFilter: getenv("ANCHOR_PALLET_FILTER", ""),
		},
		API: API{
			JWTSecret:      getenv("ANCHOR_JWT_SECRET", ""),
			SigningSecret:  getenv("ANCHOR_SIGNING_SECRET", ""),
			RateLimitRPS:   floatEnv("RATE_LIMIT_RPS", 10),
			RateLimitBurst: intEnv("RATE_LIMIT_BURST", 20),
		},
		MetricsEnabled: boolEnv("METRICS_ENABLED", true),
	}

	// Stuck anchors become eligible for reconciliation after twice the
	// confirmation poll interval unless overridden.
	cfg.Reconcile.MinAge = durationEnv("RECONCILE_MIN_AGE", 2*cfg.Ledger.PollInterval)

	if !validNetworks[cfg.Ledger.Network] {
		return nil, fmt.Errorf("config: IOTA_NETWORK must be one of mainnet, shimmer, testnet, devnet; got %q", cfg.Ledger.Network)
	}
	if cfg.Scheduler.Hour < 0 || cfg.Scheduler.Hour > 23 {
		return nil, fmt.Errorf("config: ANCHOR_SCHEDULE_HOUR must be in [0,23]; got %d", cfg.Scheduler.Hour)
	}
	if cfg.Scheduler.Minute < 0 || cfg.Scheduler.Minute > 59 {
		return nil, fmt.Errorf("config: ANCHOR_SCHEDULE_MINUTE must be in [0,59]; got %d", cfg.Scheduler.Minute)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func boolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return def
	}
	return b
}

func intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatEnv(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// durationEnv accepts either a bare number of seconds ("30", "1.5") or a
// Go duration string ("30s", "15m").
func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}
