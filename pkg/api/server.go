package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ared-network/iota-anchor/pkg/anchor"
	"github.com/ared-network/iota-anchor/pkg/database"
	"github.com/ared-network/iota-anchor/pkg/reconcile"
	"github.com/ared-network/iota-anchor/pkg/tangle"
)

// AnchorRunner triggers ad-hoc workflow runs from the API.
type AnchorRunner interface {
	Run(ctx context.Context, start, end *time.Time, wait bool) *anchor.Result
}

// AnchorRetrier forces one anchor through a reconciliation step.
type AnchorRetrier interface {
	RetryAnchor(ctx context.Context, id uuid.UUID) (*reconcile.Summary, error)
}

// Node is the slice of the ledger client the status endpoints read.
type Node interface {
	Health(ctx context.Context) error
	Info(ctx context.Context) (*tangle.NodeInfo, error)
	Network() string
}

// Config carries the API-facing settings.
type Config struct {
	// JWTSecret protects mutating endpoints when set; empty leaves them open.
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int

	// LedgerEnabled mirrors the ledger toggle so node status can answer
	// without a client.
	LedgerEnabled bool
}

// Server hosts the anchor HTTP API.
type Server struct {
	repo     anchor.Repository
	verifier *anchor.Verifier
	runner   AnchorRunner
	retrier  AnchorRetrier
	node     Node
	db       *database.DB
	cfg      Config
	log      *slog.Logger

	schemas *schemas
	limiter *RateLimiter
}

// NewServer assembles the API around its collaborators. runner, retrier
// and node may be nil when the matching subsystem is disabled; their
// endpoints then answer 503.
func NewServer(repo anchor.Repository, runner AnchorRunner, retrier AnchorRetrier, node Node, db *database.DB, cfg Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}

	compiled, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	return &Server{
		repo:     repo,
		verifier: anchor.NewVerifier(repo),
		runner:   runner,
		retrier:  retrier,
		node:     node,
		db:       db,
		cfg:      cfg,
		log:      log.With("component", "api"),
		schemas:  compiled,
		limiter:  NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}, nil
}

// Routes builds the full handler chain. Longest pattern wins, so the run
// endpoint stays separate from the anchor subtree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/readiness", s.handleReadiness)
	mux.HandleFunc("/api/v1/anchors", s.handleAnchors)
	mux.HandleFunc("/api/v1/anchors/", s.handleAnchorSubtree)
	mux.HandleFunc("/api/v1/anchors/run", s.handleRun)
	mux.HandleFunc("/api/v1/verify", s.handleVerify)
	mux.HandleFunc("/api/v1/node/status", s.handleNodeStatus)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	return s.limiter.Middleware(mux)
}
