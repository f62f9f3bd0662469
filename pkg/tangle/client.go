// Package tangle is the HTTP client for an IOTA-style node: tagged-data
// block submission, metadata polling, and inclusion tracking over the
// core API v2.
package tangle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/time/rate"

	"github.com/ared-network/iota-anchor/pkg/anchor"
)

const (
	defaultRequestTimeout      = 30 * time.Second
	defaultAPITimeout          = 60 * time.Second
	defaultRetryCount          = 3
	defaultRetryDelay          = 1 * time.Second
	defaultRetryMaxDelay       = 30 * time.Second
	defaultConfirmationTimeout = 5 * time.Minute
	defaultPollInterval        = 5 * time.Second
	defaultSubmitRPS           = 2
)

// Config configures the node client.
type Config struct {
	// NodeURL is the base URL of the node (e.g. "https://api.testnet.shimmer.network").
	NodeURL string `json:"node_url"`
	// ExplorerURL is the base URL block links are built from.
	ExplorerURL string `json:"explorer_url"`
	// Network names the ledger network recorded on receipts.
	Network string `json:"network"`
	// Tag is the UTF-8 tag attached to every block, hex-encoded on the wire.
	Tag string `json:"tag"`
	// MinNodeVersion rejects nodes older than this semver during connect.
	MinNodeVersion string `json:"min_node_version,omitempty"`

	// RequestTimeout bounds each HTTP call. APITimeout bounds a whole
	// submission including retries.
	RequestTimeout time.Duration `json:"request_timeout,omitempty"`
	APITimeout     time.Duration `json:"api_timeout,omitempty"`

	RetryCount    int           `json:"retry_count,omitempty"`
	RetryDelay    time.Duration `json:"retry_delay,omitempty"`
	RetryMaxDelay time.Duration `json:"retry_max_delay,omitempty"`

	ConfirmationTimeout time.Duration `json:"confirmation_timeout,omitempty"`
	PollInterval        time.Duration `json:"poll_interval,omitempty"`

	// SubmitRPS throttles block submissions toward the node.
	SubmitRPS   float64 `json:"submit_rps,omitempty"`
	SubmitBurst int     `json:"submit_burst,omitempty"`
}

func (c *Config) applyDefaults() {
	c.NodeURL = strings.TrimRight(c.NodeURL, "/")
	c.ExplorerURL = strings.TrimRight(c.ExplorerURL, "/")
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.APITimeout <= 0 {
		c.APITimeout = defaultAPITimeout
	}
	if c.RetryCount <= 0 {
		c.RetryCount = defaultRetryCount
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.ConfirmationTimeout <= 0 {
		c.ConfirmationTimeout = defaultConfirmationTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.SubmitRPS <= 0 {
		c.SubmitRPS = defaultSubmitRPS
	}
	if c.SubmitBurst <= 0 {
		c.SubmitBurst = 1
	}
}

// NodeInfo is the parsed /api/core/v2/info response.
type NodeInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  struct {
		IsHealthy       bool `json:"isHealthy"`
		LatestMilestone struct {
			Index int64 `json:"index"`
		} `json:"latestMilestone"`
	} `json:"status"`
	Protocol struct {
		Version     int    `json:"version"`
		NetworkName string `json:"networkName"`
	} `json:"protocol"`
}

// Client talks to one node. It connects lazily and caches the node info
// from the first successful connect.
type Client struct {
	cfg     Config
	http    *http.Client
	log     *slog.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	connected bool
	info      *NodeInfo
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg: cfg,
		// Per-call contexts carry the timeouts.
		http:    &http.Client{},
		log:     log.With("component", "tangle"),
		limiter: rate.NewLimiter(rate.Limit(cfg.SubmitRPS), cfg.SubmitBurst),
	}
}

// Network returns the configured network name.
func (c *Client) Network() string { return c.cfg.Network }

// Tag returns the configured block tag.
func (c *Client) Tag() string { return c.cfg.Tag }

// ExplorerURL builds the public link for a block.
func (c *Client) ExplorerURL(blockID string) string {
	if c.cfg.ExplorerURL == "" {
		return ""
	}
	return c.cfg.ExplorerURL + "/block/" + blockID
}

// Health reports whether the node answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.NodeURL+"/health", nil)
	if err != nil {
		return anchor.NewError(anchor.CodeLedgerUnavailable, "build health request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return anchor.NewError(anchor.CodeLedgerUnavailable, "node health check",
			fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return anchor.NewError(anchor.CodeLedgerUnavailable, "node health check",
			fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode))
	}
	return nil
}

// Connect verifies health, fetches node info, and enforces the minimum
// node version. Subsequent calls are no-ops until Reset.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	if err := c.Health(ctx); err != nil {
		return err
	}
	info, err := c.fetchInfo(ctx)
	if err != nil {
		return err
	}
	if err := c.checkVersion(info.Version); err != nil {
		return anchor.NewError(anchor.CodeLedgerUnavailable, "node version check", err)
	}

	c.info = info
	c.connected = true
	c.log.InfoContext(ctx, "connected to node",
		"node", c.cfg.NodeURL,
		"name", info.Name,
		"version", info.Version,
		"network", info.Protocol.NetworkName,
		"healthy", info.Status.IsHealthy)
	return nil
}

// Reset drops the cached connection state so the next call reconnects.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.info = nil
}

// Info returns the cached node info, connecting first if needed.
func (c *Client) Info(ctx context.Context) (*NodeInfo, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info, nil
}

func (c *Client) fetchInfo(ctx context.Context) (*NodeInfo, error) {
	var info NodeInfo
	if err := c.getJSON(ctx, "/api/core/v2/info", &info); err != nil {
		return nil, anchor.NewError(anchor.CodeLedgerUnavailable, "fetch node info", err)
	}
	return &info, nil
}

func (c *Client) checkVersion(version string) error {
	if c.cfg.MinNodeVersion == "" || version == "" {
		return nil
	}
	min, err := semver.NewVersion(strings.TrimPrefix(c.cfg.MinNodeVersion, "v"))
	if err != nil {
		return fmt.Errorf("parse minimum node version %q: %w", c.cfg.MinNodeVersion, err)
	}
	have, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		// Nodes report builds like "2.0.0-rc.6-local"; an unparseable
		// version is not grounds to refuse the node.
		c.log.Warn("node version not semver, skipping gate", "version", version)
		return nil
	}
	if have.LessThan(min) {
		return fmt.Errorf("%w: have %s, need >= %s", ErrIncompatibleNode, version, c.cfg.MinNodeVersion)
	}
	return nil
}

// getJSON issues a GET bounded by the per-request timeout and decodes
// the 200 response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.NodeURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s: status %d", ErrUnavailable, path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
