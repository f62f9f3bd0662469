package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Anchoring semantic convention attributes.
var (
	AttrAnchorID     = attribute.Key("anchor.id")
	AttrAnchorDigest = attribute.Key("anchor.digest")
	AttrOutcome      = attribute.Key("anchor.outcome")
	AttrStatus       = attribute.Key("anchor.status")
	AttrJob          = attribute.Key("anchor.job")
	AttrEventCount   = attribute.Key("anchor.event_count")

	AttrNetwork = attribute.Key("ledger.network")
	AttrBlockID = attribute.Key("ledger.block_id")
)

// RunAttributes describes one workflow run for metrics and spans.
func RunAttributes(job, outcome string, eventCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrJob.String(job),
		AttrOutcome.String(outcome),
		AttrEventCount.Int(eventCount),
	}
}

// AnchorAttributes describes one anchor.
func AnchorAttributes(id, digest, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAnchorID.String(id),
		AttrAnchorDigest.String(digest),
		AttrStatus.String(status),
	}
}

// LedgerAttributes describes one ledger interaction.
func LedgerAttributes(network, blockID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrNetwork.String(network),
		AttrBlockID.String(blockID),
	}
}

// initAnchorMetrics initializes the pipeline instruments.
func (p *Provider) initAnchorMetrics() error {
	var err error

	p.anchorsCreated, err = p.meter.Int64Counter("anchor.anchors.created",
		metric.WithDescription("Anchors created"),
		metric.WithUnit("{anchor}"),
	)
	if err != nil {
		return err
	}

	p.anchorsConfirmed, err = p.meter.Int64Counter("anchor.anchors.confirmed",
		metric.WithDescription("Anchors whose blocks a milestone referenced"),
		metric.WithUnit("{anchor}"),
	)
	if err != nil {
		return err
	}

	p.anchorsFailed, err = p.meter.Int64Counter("anchor.anchors.failed",
		metric.WithDescription("Anchors that entered the failed state"),
		metric.WithUnit("{anchor}"),
	)
	if err != nil {
		return err
	}

	p.eventsAnchored, err = p.meter.Int64Counter("anchor.events.anchored",
		metric.WithDescription("Events covered by created anchors"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	p.postDuration, err = p.meter.Float64Histogram("anchor.ledger.post.duration",
		metric.WithDescription("Tagged-data submission duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return err
	}

	p.confirmLatency, err = p.meter.Float64Histogram("anchor.ledger.confirmation.latency",
		metric.WithDescription("Time from post to milestone reference in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return err
	}

	p.reconcileRetries, err = p.meter.Int64Counter("anchor.reconcile.retries",
		metric.WithDescription("Reconciliation resubmissions"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return err
	}

	p.needsReview, err = p.meter.Int64Counter("anchor.reconcile.needs_review",
		metric.WithDescription("Anchors parked for operator review"),
		metric.WithUnit("{anchor}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordAnchorCreated counts a created anchor and its covered events.
func (p *Provider) RecordAnchorCreated(ctx context.Context, eventCount int, attrs ...attribute.KeyValue) {
	if p.anchorsCreated != nil {
		p.anchorsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if p.eventsAnchored != nil && eventCount > 0 {
		p.eventsAnchored.Add(ctx, int64(eventCount), metric.WithAttributes(attrs...))
	}
}

// RecordAnchorConfirmed counts a confirmation and its latency since post.
func (p *Provider) RecordAnchorConfirmed(ctx context.Context, latency time.Duration, attrs ...attribute.KeyValue) {
	if p.anchorsConfirmed != nil {
		p.anchorsConfirmed.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if p.confirmLatency != nil && latency > 0 {
		p.confirmLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))
	}
}

// RecordAnchorFailed counts an anchor entering the failed state.
func (p *Provider) RecordAnchorFailed(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.anchorsFailed != nil {
		p.anchorsFailed.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordLedgerPost records one submission duration.
func (p *Provider) RecordLedgerPost(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	if p.postDuration != nil {
		p.postDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	}
}

// ReconcileCounts is the slice of a reconciliation summary the pipeline
// instruments track.
type ReconcileCounts struct {
	Retried     int
	Confirmed   int
	Failed      int
	NeedsReview int
}

// RecordReconcilePass folds one reconciliation pass into the pipeline
// counters. Confirmations land without a latency sample; by the time a
// scan observes the inclusion the delay since post is unknown.
func (p *Provider) RecordReconcilePass(ctx context.Context, c ReconcileCounts, attrs ...attribute.KeyValue) {
	opt := metric.WithAttributes(attrs...)
	if p.reconcileRetries != nil && c.Retried > 0 {
		p.reconcileRetries.Add(ctx, int64(c.Retried), opt)
	}
	if p.anchorsConfirmed != nil && c.Confirmed > 0 {
		p.anchorsConfirmed.Add(ctx, int64(c.Confirmed), opt)
	}
	if p.anchorsFailed != nil && c.Failed > 0 {
		p.anchorsFailed.Add(ctx, int64(c.Failed), opt)
	}
	if p.needsReview != nil && c.NeedsReview > 0 {
		p.needsReview.Add(ctx, int64(c.NeedsReview), opt)
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
