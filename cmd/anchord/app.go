package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ared-network/iota-anchor/pkg/anchor"
	"github.com/ared-network/iota-anchor/pkg/archive"
	"github.com/ared-network/iota-anchor/pkg/config"
	"github.com/ared-network/iota-anchor/pkg/database"
	"github.com/ared-network/iota-anchor/pkg/events"
	"github.com/ared-network/iota-anchor/pkg/store/anchors"
	"github.com/ared-network/iota-anchor/pkg/tangle"
)

// loadConfig reads the environment and overlays the network profile for
// the configured network, when one is shipped alongside the binary.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	dir := os.Getenv("ANCHOR_PROFILE_DIR")
	if dir == "" {
		dir = "profiles"
	}
	if err := cfg.ApplyProfileDir(dir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger at the configured level. An unknown
// level falls back to info.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openDatabase dials DATABASE_URL. Unset, it falls back to an embedded
// SQLite database under data/, creating the directory on first run.
func openDatabase(ctx context.Context, cfg *config.Config, stdout io.Writer) (*database.DB, error) {
	url := cfg.DatabaseURL
	if url == "" {
		fmt.Fprintf(stdout, "ℹ️  DATABASE_URL not set. Falling back to %sLite Mode%s (SQLite).\n", ColorBold+ColorCyan, ColorReset)
		if err := os.MkdirAll("data", 0750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		url = filepath.Join("data", "anchor.db")
	}

	db, err := database.Open(url)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return db, nil
}

// pipeline bundles the anchoring subsystems one process wires together.
type pipeline struct {
	db       *database.DB
	repo     *anchors.Store
	consumer *events.Consumer
	ledger   anchor.Ledger
	node     *tangle.Client // nil when the ledger is disabled
	archiver *archive.Archiver
	workflow *anchor.Workflow
}

func (p *pipeline) Close() error {
	return p.db.Close()
}

// buildPipeline wires the store, event consumer, ledger client, archiver,
// and workflow from configuration.
func buildPipeline(ctx context.Context, cfg *config.Config, log *slog.Logger, stdout io.Writer) (*pipeline, error) {
	db, err := openDatabase(ctx, cfg, stdout)
	if err != nil {
		return nil, err
	}

	repo, err := anchors.NewStore(ctx, db, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	consumer := events.NewConsumer(db, log)
	if cfg.Workflow.EventFilter != "" {
		f, err := events.CompileFilter(cfg.Workflow.EventFilter)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("event filter: %w", err)
		}
		consumer = consumer.WithFilter(f)
	}

	var (
		ledger anchor.Ledger
		node   *tangle.Client
	)
	if cfg.Ledger.Enabled {
		node = tangle.NewClient(tangle.Config{
			NodeURL:             cfg.Ledger.NodeURL,
			ExplorerURL:         cfg.Ledger.ExplorerURL,
			Network:             cfg.Ledger.Network,
			Tag:                 cfg.Ledger.Tag(),
			MinNodeVersion:      cfg.Ledger.MinNodeVersion,
			RequestTimeout:      cfg.Ledger.RequestTimeout,
			APITimeout:          cfg.Ledger.APITimeout,
			RetryCount:          cfg.Ledger.RetryCount,
			RetryDelay:          cfg.Ledger.RetryDelay,
			RetryMaxDelay:       cfg.Ledger.RetryMaxDelay,
			ConfirmationTimeout: cfg.Ledger.ConfirmationTimeout,
			PollInterval:        cfg.Ledger.PollInterval,
		}, log)
		ledger = node
	} else {
		ledger = disabledLedger{}
	}

	bundles, err := archive.NewStoreFromEnv(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("archive store: %w", err)
	}
	var signer *archive.Signer
	if cfg.API.SigningSecret != "" {
		signer, err = archive.NewSigner(cfg.API.SigningSecret)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("bundle signer: %w", err)
		}
	}
	archiver := archive.NewArchiver(bundles, signer)

	source := &eventSource{consumer: consumer}
	if cfg.Workflow.PalletFilter != "" {
		source.pallets = []string{cfg.Workflow.PalletFilter}
	}

	wf := anchor.NewWorkflow(repo, ledger, source, log).
		WithMinEvents(cfg.Workflow.MinEvents).
		WithArchiver(archiver)

	return &pipeline{
		db:       db,
		repo:     repo,
		consumer: consumer,
		ledger:   ledger,
		node:     node,
		archiver: archiver,
		workflow: wf,
	}, nil
}

// eventSource adapts the consumer to the workflow's window port, pinning
// the configured pallet filter.
type eventSource struct {
	consumer *events.Consumer
	pallets  []string
}

func (s *eventSource) FetchWindow(ctx context.Context, start, end time.Time) (*events.Window, error) {
	return s.consumer.FetchWindow(ctx, start, end, s.pallets)
}

func (s *eventSource) LastAnchorEnd(ctx context.Context) (*time.Time, error) {
	return s.consumer.LastAnchorEnd(ctx)
}

func (s *eventSource) EventCountSince(ctx context.Context, since time.Time) (int, error) {
	return s.consumer.EventCountSince(ctx, since)
}

// disabledLedger stands in when IOTA_ENABLED is false. Submissions fail
// with the unavailable code; reads and verification keep working.
type disabledLedger struct{}

func (disabledLedger) Health(context.Context) error {
	return errLedgerDisabled()
}

func (disabledLedger) PostAnchor(context.Context, *anchor.Message, bool) (*anchor.PostReceipt, error) {
	return nil, errLedgerDisabled()
}

func (disabledLedger) BlockMetadata(context.Context, string) (*anchor.BlockStatus, error) {
	return nil, errLedgerDisabled()
}

func errLedgerDisabled() error {
	return anchor.NewError(anchor.CodeLedgerUnavailable, "ledger disabled by configuration", nil)
}
