package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ared-network/iota-anchor/pkg/anchor"
	"github.com/ared-network/iota-anchor/pkg/observability"
	"github.com/ared-network/iota-anchor/pkg/reconcile"
)

// instrumentedRunner wraps the workflow with a span and the pipeline
// instruments per run. A nil provider passes calls straight through, so
// the same wiring serves deployments with metrics off.
type instrumentedRunner struct {
	wf   *anchor.Workflow
	repo anchor.Repository
	obs  *observability.Provider
}

func (r *instrumentedRunner) Run(ctx context.Context, start, end *time.Time, wait bool) *anchor.Result {
	return r.record(ctx, "anchor.run", func(ctx context.Context) *anchor.Result {
		return r.wf.Run(ctx, start, end, wait)
	})
}

func (r *instrumentedRunner) RunDaily(ctx context.Context) *anchor.Result {
	return r.record(ctx, "anchor.daily", r.wf.RunDaily)
}

func (r *instrumentedRunner) RunIncremental(ctx context.Context) *anchor.Result {
	return r.record(ctx, "anchor.incremental", r.wf.RunIncremental)
}

func (r *instrumentedRunner) record(ctx context.Context, job string, fn func(context.Context) *anchor.Result) *anchor.Result {
	if r.obs == nil {
		return fn(ctx)
	}

	ctx, finish := r.obs.TrackOperation(ctx, job)
	res := fn(ctx)

	attrs := observability.RunAttributes(job, string(res.Outcome), res.EventCount)
	switch {
	case res.Outcome == anchor.OutcomeCreated:
		r.obs.RecordAnchorCreated(ctx, res.EventCount, attrs...)
		// A run that waited for inclusion leaves the anchor confirmed;
		// the run duration is the closest latency sample we have.
		if a, err := r.repo.GetAnchor(ctx, res.AnchorID); err == nil && a.Status == anchor.StatusConfirmed {
			r.obs.RecordAnchorConfirmed(ctx, res.Duration, attrs...)
		}
	case !res.Success:
		r.obs.RecordAnchorFailed(ctx, attrs...)
	}

	if !res.Success {
		finish(errors.New(res.Error))
	} else {
		finish(nil)
	}
	return res
}

// instrumentedReconciler wraps reconciliation passes and operator retries.
type instrumentedReconciler struct {
	rec *reconcile.Reconciler
	obs *observability.Provider
}

func (r *instrumentedReconciler) Run(ctx context.Context) (*reconcile.Summary, error) {
	if r.obs == nil {
		return r.rec.Run(ctx)
	}

	ctx, finish := r.obs.TrackOperation(ctx, "reconcile.pass")
	sum, err := r.rec.Run(ctx)
	r.recordPass(ctx, sum)
	finish(err)
	return sum, err
}

func (r *instrumentedReconciler) RetryAnchor(ctx context.Context, id uuid.UUID) (*reconcile.Summary, error) {
	if r.obs == nil {
		return r.rec.RetryAnchor(ctx, id)
	}

	ctx, finish := r.obs.TrackOperation(ctx, "reconcile.retry",
		observability.AttrAnchorID.String(id.String()))
	sum, err := r.rec.RetryAnchor(ctx, id)
	r.recordPass(ctx, sum)
	finish(err)
	return sum, err
}

func (r *instrumentedReconciler) recordPass(ctx context.Context, sum *reconcile.Summary) {
	if sum == nil {
		return
	}
	r.obs.RecordReconcilePass(ctx, observability.ReconcileCounts{
		Retried:     sum.Retried,
		Confirmed:   sum.Confirmed,
		Failed:      sum.Failed,
		NeedsReview: sum.MarkedForReview,
	})
}
