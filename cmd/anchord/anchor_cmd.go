package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"
)

// runAnchorCmd anchors one window immediately and reports the result.
func runAnchorCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("anchor", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		startStr   string
		endStr     string
		wait       bool
		jsonOutput bool
	)
	cmd.StringVar(&startStr, "start", "", "Window start, RFC 3339 (default: after the last anchored window)")
	cmd.StringVar(&endStr, "end", "", "Window end, RFC 3339 (default: now)")
	cmd.BoolVar(&wait, "wait", false, "Wait for the ledger to confirm the block")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	start, err := parseTimeFlag(startStr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: --start: %v\n", err)
		return 2
	}
	end, err := parseTimeFlag(endStr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: --end: %v\n", err)
		return 2
	}
	if start != nil && end != nil && !start.Before(*end) {
		fmt.Fprintln(stderr, "Error: --start must be before --end")
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	logger := newLogger(cfg.LogLevel)

	ctx := context.Background()
	p, err := buildPipeline(ctx, cfg, logger, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer p.Close()

	res := p.workflow.Run(ctx, start, end, wait)

	if jsonOutput {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if res.Success {
		fmt.Fprintf(stdout, "✅ Anchor %s\n", res.Outcome)
		if res.Digest != "" {
			fmt.Fprintf(stdout, "   Digest: %s\n", res.Digest)
		}
		if res.BlockID != "" {
			fmt.Fprintf(stdout, "   Block:  %s\n", res.BlockID)
		}
		fmt.Fprintf(stdout, "   Events: %d\n", res.EventCount)
	} else {
		fmt.Fprintf(stderr, "❌ Anchor failed: %s\n", res.Error)
	}

	if !res.Success {
		return 1
	}
	return 0
}

// parseTimeFlag parses an optional RFC 3339 flag value in UTC.
func parseTimeFlag(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
