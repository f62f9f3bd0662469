package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ared-network/iota-anchor/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_URL",
		"IOTA_ENABLED", "IOTA_NODE_URL", "IOTA_NETWORK", "IOTA_EXPLORER_URL",
		"IOTA_TAG_PREFIX", "IOTA_TAG_VERSION",
		"IOTA_REQUEST_TIMEOUT", "IOTA_API_TIMEOUT",
		"IOTA_RETRY_COUNT", "IOTA_RETRY_DELAY", "IOTA_RETRY_MAX_DELAY",
		"IOTA_CONFIRMATION_TIMEOUT", "IOTA_CONFIRMATION_POLL_INTERVAL",
		"IOTA_MIN_NODE_VERSION",
		"SCHEDULER_ENABLED", "ANCHOR_SCHEDULE_HOUR", "ANCHOR_SCHEDULE_MINUTE",
		"ANCHOR_INCREMENTAL_INTERVAL",
		"RECONCILE_INTERVAL", "RECONCILE_MIN_AGE", "RECONCILE_MAX_RETRIES",
		"RECONCILE_BACKOFF_BASE", "RECONCILE_BACKOFF_CAP",
		"ANCHOR_MIN_EVENTS", "ANCHOR_EVENT_FILTER", "ANCHOR_PALLET_FILTER",
		"ANCHOR_JWT_SECRET", "ANCHOR_SIGNING_SECRET", "REDIS_URL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8082", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)

	assert.True(t, cfg.Ledger.Enabled)
	assert.Equal(t, "https://api.testnet.shimmer.network", cfg.Ledger.NodeURL)
	assert.Equal(t, "testnet", cfg.Ledger.Network)
	assert.Equal(t, "ARED_ANCHOR_v1", cfg.Ledger.Tag())
	assert.Equal(t, 30*time.Second, cfg.Ledger.RequestTimeout)
	assert.Equal(t, 60*time.Second, cfg.Ledger.APITimeout)
	assert.Equal(t, 3, cfg.Ledger.RetryCount)
	assert.Equal(t, time.Second, cfg.Ledger.RetryDelay)
	assert.Equal(t, 30*time.Second, cfg.Ledger.RetryMaxDelay)
	assert.Equal(t, 300*time.Second, cfg.Ledger.ConfirmationTimeout)
	assert.Equal(t, 5*time.Second, cfg.Ledger.PollInterval)

	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 0, cfg.Scheduler.Hour)
	assert.Equal(t, 0, cfg.Scheduler.Minute)
	assert.Zero(t, cfg.Scheduler.Incremental)
	assert.Empty(t, cfg.Ledger.MinNodeVersion)

	assert.Equal(t, 15*time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 10*time.Second, cfg.Reconcile.MinAge) // 2x poll interval
	assert.Equal(t, 3, cfg.Reconcile.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Reconcile.BackoffBase)
	assert.Equal(t, time.Hour, cfg.Reconcile.BackoffCap)

	assert.Equal(t, 100, cfg.Workflow.MinEvents)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("IOTA_NODE_URL", "https://api.shimmer.network")
	t.Setenv("IOTA_NETWORK", "SHIMMER")
	t.Setenv("IOTA_ENABLED", "false")
	t.Setenv("IOTA_RETRY_DELAY", "1.5")
	t.Setenv("RECONCILE_INTERVAL", "5m")
	t.Setenv("RECONCILE_MIN_AGE", "30s")
	t.Setenv("ANCHOR_SCHEDULE_HOUR", "3")
	t.Setenv("ANCHOR_INCREMENTAL_INTERVAL", "1h")
	t.Setenv("ANCHOR_MIN_EVENTS", "10")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "https://api.shimmer.network", cfg.Ledger.NodeURL)
	assert.Equal(t, "shimmer", cfg.Ledger.Network)
	assert.False(t, cfg.Ledger.Enabled)
	assert.Equal(t, 1500*time.Millisecond, cfg.Ledger.RetryDelay)
	assert.Equal(t, 5*time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 30*time.Second, cfg.Reconcile.MinAge)
	assert.Equal(t, 3, cfg.Scheduler.Hour)
	assert.Equal(t, time.Hour, cfg.Scheduler.Incremental)
	assert.Equal(t, 10, cfg.Workflow.MinEvents)
}

func TestLoad_InvalidNetwork(t *testing.T) {
	t.Setenv("IOTA_NETWORK", "ropsten")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_InvalidScheduleHour(t *testing.T) {
	t.Setenv("IOTA_NETWORK", "")
	t.Setenv("ANCHOR_SCHEDULE_HOUR", "24")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestNetworkProfile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`name: Shimmer Mainnet
network: shimmer
node_url: https://api.shimmer.network
explorer_url: https://explorer.shimmer.network/shimmer
min_node_version: 2.0.0
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "network_shimmer.yaml"), content, 0o644))

	profile, err := config.LoadNetworkProfile(dir, "shimmer")
	require.NoError(t, err)
	assert.Equal(t, "shimmer", profile.Network)
	assert.Equal(t, "https://api.shimmer.network", profile.NodeURL)
	assert.Equal(t, "2.0.0", profile.MinNodeVersion)

	all, err := config.LoadAllNetworkProfiles(dir)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = config.LoadNetworkProfile(dir, "devnet")
	assert.Error(t, err)
}

func TestApplyProfileDir(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`network: testnet
node_url: https://node.example.org
explorer_url: https://explorer.example.org
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "network_testnet.yaml"), content, 0o644))

	t.Setenv("IOTA_NETWORK", "testnet")
	cfg, err := config.Load()
	require.NoError(t, err)

	require.NoError(t, cfg.ApplyProfileDir(dir))
	assert.Equal(t, "https://node.example.org", cfg.Ledger.NodeURL)
	assert.Equal(t, "https://explorer.example.org", cfg.Ledger.ExplorerURL)

	// Missing profile file is not an error.
	require.NoError(t, cfg.ApplyProfileDir(t.TempDir()))
}
