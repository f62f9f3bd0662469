// Package observability provides OpenTelemetry tracing and metrics for the
// anchor service: OTLP gRPC export, RED metrics for every tracked
// operation, and domain instruments for the anchoring pipeline.
//
// Initialize the provider at startup and shut it down on exit:
//
//	obs, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "iota-anchor",
//		OTLPEndpoint: "otel-collector:4317",
//		Enabled:      cfg.MetricsEnabled,
//	})
//	defer obs.Shutdown(ctx)
//
// Wrap a unit of work so rate, errors, and duration are recorded together:
//
//	ctx, finish := obs.TrackOperation(ctx, "anchor.reconcile")
//	_, err := reconciler.Run(ctx)
//	finish(err)
//
// Record pipeline events where they happen:
//
//	obs.RecordAnchorCreated(ctx, res.EventCount)
//	obs.RecordLedgerPost(ctx, postDuration)
//
// A disabled provider (Enabled false, the default in tests) keeps every
// method safe to call and records nothing.
package observability
