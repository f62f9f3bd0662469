package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ared-network/iota-anchor/pkg/api"
	"github.com/ared-network/iota-anchor/pkg/observability"
	"github.com/ared-network/iota-anchor/pkg/reconcile"
	"github.com/ared-network/iota-anchor/pkg/retry"
	"github.com/ared-network/iota-anchor/pkg/scheduler"
)

//nolint:gocognit // process assembly is one long wiring pass
func runServe(stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "%sARED IOTA Anchor starting...%s\n", ColorBold+ColorBlue, ColorReset)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := buildPipeline(ctx, cfg, logger, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "Startup failed: %v\n", err)
		return 1
	}
	defer p.Close()

	// The node being down must not keep the service from starting;
	// reconciliation catches up once it returns.
	if p.node != nil {
		if err := p.node.Health(ctx); err != nil {
			logger.Warn("ledger node unreachable at startup", "error", err)
		} else {
			logger.Info("ledger node healthy",
				"network", cfg.Ledger.Network, "node_url", cfg.Ledger.NodeURL)
		}
	}

	var obs *observability.Provider
	if cfg.MetricsEnabled {
		obsCfg := observability.DefaultConfig()
		obsCfg.ServiceVersion = Version
		if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
			obsCfg.OTLPEndpoint = endpoint
		}
		if env := os.Getenv("ENVIRONMENT"); env != "" {
			obsCfg.Environment = env
		}
		obsCfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
		obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			logger.Warn("observability disabled", "error", err)
			obs = nil
		}
	}

	rec := reconcile.NewReconciler(p.repo, p.ledger, logger).
		WithClaims(p.workflow.Claims()).
		WithPolicy(retry.Policy{
			Base:        cfg.Reconcile.BackoffBase,
			Max:         cfg.Reconcile.BackoffCap,
			MaxAttempts: cfg.Reconcile.MaxRetries,
		}).
		WithMinAge(cfg.Reconcile.MinAge).
		WithArchiver(p.archiver)

	runner := &instrumentedRunner{wf: p.workflow, repo: p.repo, obs: obs}
	reconciler := &instrumentedReconciler{rec: rec, obs: obs}

	schedDone := make(chan struct{})
	if cfg.Scheduler.Enabled {
		sched := scheduler.NewScheduler(runner, reconciler, logger).
			WithSchedule(cfg.Scheduler.Hour, cfg.Scheduler.Minute).
			WithReconcileInterval(cfg.Reconcile.Interval).
			WithIncrementalInterval(cfg.Scheduler.Incremental)
		if cfg.Scheduler.RedisURL != "" {
			lock, err := scheduler.NewLockFromURL(cfg.Scheduler.RedisURL)
			if err != nil {
				fmt.Fprintf(stderr, "Startup failed: %v\n", err)
				return 1
			}
			sched = sched.WithLock(lock)
			logger.Info("leader lock enabled", "backend", "redis")
		}
		go func() {
			defer close(schedDone)
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduler stopped", "error", err)
			}
		}()
	} else {
		close(schedDone)
		logger.Info("scheduler disabled")
	}

	var node api.Node
	if p.node != nil {
		node = p.node
	}
	srv, err := api.NewServer(p.repo, runner, reconciler, node, p.db, api.Config{
		JWTSecret:      cfg.API.JWTSecret,
		RateLimitRPS:   cfg.API.RateLimitRPS,
		RateLimitBurst: cfg.API.RateLimitBurst,
		LedgerEnabled:  cfg.Ledger.Enabled,
	}, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Startup failed: %v\n", err)
		return 1
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A run that waits for inclusion holds its response for the whole
		// confirmation window.
		WriteTimeout: cfg.Ledger.ConfirmationTimeout + cfg.Ledger.APITimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	fmt.Fprintf(stdout, "%sready:%s http://localhost:%s\n", ColorBold+ColorGreen, ColorReset, cfg.Port)
	fmt.Fprintln(stdout, "press ctrl+c to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exit := 0
	select {
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		logger.Error("http server failed", "error", err)
		exit = 1
	}

	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler jobs still running at shutdown")
	}
	if obs != nil {
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Error("observability shutdown", "error", err)
		}
	}
	return exit
}
