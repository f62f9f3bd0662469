package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/ared-network/iota-anchor/pkg/anchor"
	"github.com/ared-network/iota-anchor/pkg/store/anchors"
)

// runVerifyCmd replays the stored proof for an event hash, offline. The
// ledger is never contacted; the check is against the anchor digests the
// store already holds.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		eventHash  string
		jsonOutput bool
	)
	cmd.StringVar(&eventHash, "event-hash", "", "Event hash to verify (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if eventHash == "" {
		fmt.Fprintln(stderr, "Error: --event-hash is required")
		cmd.Usage()
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	logger := newLogger(cfg.LogLevel)

	ctx := context.Background()
	db, err := openDatabase(ctx, cfg, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	repo, err := anchors.NewStore(ctx, db, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	res, err := anchor.NewVerifier(repo).VerifyEventHash(ctx, eventHash)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Fprintln(stdout, string(data))
		if !res.Verified {
			return 1
		}
		return 0
	}

	if !res.Verified {
		fmt.Fprintf(stderr, "❌ Not verified: %s\n", res.Message)
		return 1
	}

	fmt.Fprintf(stdout, "✅ %s\n", res.Message)
	fmt.Fprintf(stdout, "   Anchor:   %s\n", res.AnchorDigest)
	if res.BlockID != "" {
		fmt.Fprintf(stdout, "   Block:    %s\n", res.BlockID)
	}
	if res.ExplorerURL != "" {
		fmt.Fprintf(stdout, "   Explorer: %s\n", res.ExplorerURL)
	}
	return 0
}
