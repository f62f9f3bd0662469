// Package reconcile advances stuck anchors toward a terminal state. It
// resubmits unconfirmed windows with exponential backoff, promotes anchors
// that exhausted their retry budget to needs-review, and confirms posted
// anchors whose blocks the ledger has since included. Anchor items are
// never touched here; those are written once by the workflow.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ared-network/iota-anchor/pkg/anchor"
	"github.com/ared-network/iota-anchor/pkg/retry"
)

// reviewMessage marks anchors whose retry budget is spent.
const reviewMessage = "exceeded retries; needs review"

// scanLimit bounds each status scan so one pass stays short.
const scanLimit = 100

// Summary counts what one reconciliation pass did.
type Summary struct {
	Processed       int `json:"processed"`
	Retried         int `json:"retried"`
	Confirmed       int `json:"confirmed"`
	Failed          int `json:"failed"`
	MarkedForReview int `json:"marked_for_review"`
}

// Reconciler scans non-terminal anchors and retries or confirms them.
type Reconciler struct {
	repo     anchor.Repository
	ledger   anchor.Ledger
	archiver anchor.Archiver
	claims   *anchor.ClaimSet
	clock    anchor.Clock
	log      *slog.Logger

	policy     retry.Policy
	maxRetries int
	minAge     time.Duration
}

func NewReconciler(repo anchor.Repository, ledger anchor.Ledger, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	policy := retry.DefaultReconcilePolicy()
	return &Reconciler{
		repo:       repo,
		ledger:     ledger,
		claims:     anchor.NewClaimSet(),
		clock:      anchor.WallClock(),
		log:        log.With("component", "reconcile"),
		policy:     policy,
		maxRetries: policy.MaxAttempts,
		minAge:     10 * time.Second,
	}
}

// WithClaims shares the workflow's advisory claim set so a window is never
// resubmitted while a run holds it.
func (r *Reconciler) WithClaims(c *anchor.ClaimSet) *Reconciler {
	if c != nil {
		r.claims = c
	}
	return r
}

// WithArchiver stores proof bundles for anchors this pass confirms.
func (r *Reconciler) WithArchiver(a anchor.Archiver) *Reconciler {
	r.archiver = a
	return r
}

// WithClock replaces the wall clock, for tests.
func (r *Reconciler) WithClock(c anchor.Clock) *Reconciler {
	r.clock = c
	return r
}

// WithPolicy sets the backoff schedule and, through MaxAttempts, the retry
// cap.
func (r *Reconciler) WithPolicy(p retry.Policy) *Reconciler {
	r.policy = p
	if p.MaxAttempts > 0 {
		r.maxRetries = p.MaxAttempts
	}
	return r
}

// WithMinAge sets how old a pending anchor must be before the scan touches
// it, keeping reconciliation off windows a workflow is still driving.
func (r *Reconciler) WithMinAge(d time.Duration) *Reconciler {
	if d > 0 {
		r.minAge = d
	}
	return r
}

// Run performs one reconciliation pass. Failures on a single anchor are
// logged and counted; the pass itself errors only when a scan query does or
// the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{}
	if err := r.scanStuck(ctx, sum); err != nil {
		return sum, err
	}
	if err := r.scanPosted(ctx, sum); err != nil {
		return sum, err
	}
	if err := r.scanFailed(ctx, sum); err != nil {
		return sum, err
	}
	r.log.InfoContext(ctx, "reconciliation pass finished",
		"processed", sum.Processed, "retried", sum.Retried,
		"confirmed", sum.Confirmed, "failed", sum.Failed,
		"review", sum.MarkedForReview)
	return sum, nil
}

// RetryAnchor forces one anchor through a reconciliation step on operator
// request. Posted anchors get an immediate inclusion check; everything else
// non-terminal is resubmitted right away, ignoring backoff and the retry
// budget. This is the recovery path for anchors parked in needs-review.
func (r *Reconciler) RetryAnchor(ctx context.Context, id uuid.UUID) (*Summary, error) {
	a, err := r.repo.GetAnchor(ctx, id)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Processed: 1}
	switch a.Status {
	case anchor.StatusConfirmed:
		return nil, anchor.NewError(anchor.CodeInvalidInput, "anchor already confirmed", nil)
	case anchor.StatusPosted:
		r.checkPosted(ctx, a, sum)
	default:
		n, err := r.repo.RetryCount(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		r.resubmit(ctx, a, n, sum)
	}
	return sum, nil
}

// scanStuck picks up anchors that never reached posted: resubmit when the
// backoff allows, or promote to review once the budget is spent.
func (r *Reconciler) scanStuck(ctx context.Context, sum *Summary) error {
	now := r.clock.Now().UTC()
	stuck, err := r.repo.ListByStatuses(ctx,
		[]anchor.Status{anchor.StatusPending, anchor.StatusBuilding, anchor.StatusPosting},
		now.Add(-r.minAge), scanLimit)
	if err != nil {
		return fmt.Errorf("scan stuck anchors: %w", err)
	}
	for _, a := range stuck {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum.Processed++

		n, err := r.repo.RetryCount(ctx, a.ID)
		if err != nil {
			r.log.WarnContext(ctx, "retry count lookup failed",
				"anchor_id", a.ID.String(), "error", err)
			continue
		}
		if n >= r.maxRetries {
			if err := r.repo.UpdateStatus(ctx, a.ID, anchor.StatusFailed,
				anchor.StatusUpdate{ErrorMessage: reviewMessage}); err != nil {
				r.log.WarnContext(ctx, "review promotion failed",
					"anchor_id", a.ID.String(), "error", err)
				continue
			}
			sum.MarkedForReview++
			r.log.WarnContext(ctx, "anchor needs review",
				"anchor_id", a.ID.String(), "retries", n)
			continue
		}
		// A stuck anchor with no recorded retry is due as soon as it
		// clears min_age.
		if !r.due(ctx, a, n, now, time.Time{}) {
			continue
		}
		r.resubmit(ctx, a, n, sum)
	}
	return nil
}

// scanPosted confirms posted anchors whose blocks reached a milestone and
// fails the ones the ledger rejected as conflicting.
func (r *Reconciler) scanPosted(ctx context.Context, sum *Summary) error {
	now := r.clock.Now().UTC()
	posted, err := r.repo.ListByStatuses(ctx,
		[]anchor.Status{anchor.StatusPosted}, now, scanLimit)
	if err != nil {
		return fmt.Errorf("scan posted anchors: %w", err)
	}
	for _, a := range posted {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum.Processed++
		r.checkPosted(ctx, a, sum)
	}
	return nil
}

// checkPosted resolves one posted anchor against the ledger's inclusion
// verdict. Windows a workflow still holds are left alone.
func (r *Reconciler) checkPosted(ctx context.Context, a *anchor.Anchor, sum *Summary) {
	if a.BlockID == "" {
		return
	}
	if r.claims.Held(anchor.ClaimKey(a.Digest, a.StartTime, a.EndTime)) {
		return
	}

	status, err := r.ledger.BlockMetadata(ctx, a.BlockID)
	if err != nil {
		r.log.WarnContext(ctx, "metadata lookup failed",
			"anchor_id", a.ID.String(), "block_id", a.BlockID, "error", err)
		return
	}
	switch status.State {
	case anchor.InclusionIncluded:
		if err := r.repo.UpdateStatus(ctx, a.ID, anchor.StatusConfirmed,
			anchor.StatusUpdate{}); err != nil {
			r.log.WarnContext(ctx, "confirm failed",
				"anchor_id", a.ID.String(), "error", err)
			return
		}
		sum.Confirmed++
		r.log.InfoContext(ctx, "anchor confirmed",
			"anchor_id", a.ID.String(), "block_id", a.BlockID,
			"milestone", status.MilestoneIndex)
		a.Status = anchor.StatusConfirmed
		r.archive(ctx, a)
	case anchor.InclusionConflicting:
		if err := r.repo.UpdateStatus(ctx, a.ID, anchor.StatusFailed,
			anchor.StatusUpdate{ErrorMessage: "block conflicting on the ledger"}); err != nil {
			r.log.WarnContext(ctx, "conflict mark failed",
				"anchor_id", a.ID.String(), "error", err)
			return
		}
		sum.Failed++
		r.log.WarnContext(ctx, "anchor block conflicting",
			"anchor_id", a.ID.String(), "block_id", a.BlockID)
	default:
		// Still waiting for a milestone.
	}
}

// scanFailed retries failed anchors that are below the retry cap and past
// their backoff.
func (r *Reconciler) scanFailed(ctx context.Context, sum *Summary) error {
	now := r.clock.Now().UTC()
	failed, err := r.repo.ListByStatuses(ctx,
		[]anchor.Status{anchor.StatusFailed}, now, scanLimit)
	if err != nil {
		return fmt.Errorf("scan failed anchors: %w", err)
	}
	for _, a := range failed {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum.Processed++

		n, err := r.repo.RetryCount(ctx, a.ID)
		if err != nil {
			r.log.WarnContext(ctx, "retry count lookup failed",
				"anchor_id", a.ID.String(), "error", err)
			continue
		}
		if n >= r.maxRetries {
			continue
		}
		if !r.due(ctx, a, n, now, a.CreatedAt) {
			continue
		}
		r.resubmit(ctx, a, n, sum)
	}
	return nil
}

// archive stores the proof bundle for a freshly confirmed anchor. Best
// effort, like the workflow's commit-path archival.
func (r *Reconciler) archive(ctx context.Context, a *anchor.Anchor) {
	if r.archiver == nil {
		return
	}
	items, _, err := r.repo.ListItems(ctx, a.ID, anchor.ItemsQuery{Limit: a.ItemCount})
	if err != nil {
		r.log.WarnContext(ctx, "proof bundle items unavailable",
			"anchor_id", a.ID.String(), "error", err)
		return
	}
	loc, err := r.archiver.Archive(ctx, a, items)
	if err != nil {
		r.log.WarnContext(ctx, "proof bundle archive failed",
			"anchor_id", a.ID.String(), "error", err)
		return
	}
	r.log.InfoContext(ctx, "proof bundle archived",
		"anchor_id", a.ID.String(), "location", loc)
}

// due reports whether the anchor's backoff window has elapsed. The backoff
// clock starts at the last recorded retry, falling back to origin; a zero
// origin means due immediately.
func (r *Reconciler) due(ctx context.Context, a *anchor.Anchor, n int, now, origin time.Time) bool {
	last, err := r.repo.LastRetryAt(ctx, a.ID)
	if err != nil {
		r.log.WarnContext(ctx, "last retry lookup failed",
			"anchor_id", a.ID.String(), "error", err)
		return false
	}
	start := origin
	if last != nil {
		start = *last
	}
	if start.IsZero() {
		return true
	}
	return now.Sub(start) >= retry.Backoff(r.policy, n)
}

// resubmit reposts the anchor's digest and advances its status. Failed
// anchors pass back through pending so the transition stays legal. Every
// attempt lands in the retry log.
func (r *Reconciler) resubmit(ctx context.Context, a *anchor.Anchor, n int, sum *Summary) {
	key := anchor.ClaimKey(a.Digest, a.StartTime, a.EndTime)
	if !r.claims.TryClaim(key) {
		r.log.InfoContext(ctx, "anchor held by a workflow, skipping",
			"anchor_id", a.ID.String())
		return
	}
	defer r.claims.Release(key)

	if a.Status == anchor.StatusFailed {
		if err := r.repo.UpdateStatus(ctx, a.ID, anchor.StatusPending,
			anchor.StatusUpdate{}); err != nil {
			r.log.WarnContext(ctx, "failed anchor restart rejected",
				"anchor_id", a.ID.String(), "error", err)
			return
		}
	}

	msg := anchor.NewMessage(a.Digest, a.ItemCount, a.StartTime, a.EndTime, r.clock.Now().UTC())
	receipt, err := r.ledger.PostAnchor(ctx, msg, false)
	if err != nil {
		if anchor.IsCode(err, anchor.CodeCancelled) {
			return
		}
		r.recordFailure(ctx, a, n, err, sum)
		return
	}

	if err := r.repo.UpdateStatus(ctx, a.ID, anchor.StatusPosted, anchor.StatusUpdate{
		BlockID:     receipt.BlockID,
		Network:     receipt.Network,
		ExplorerURL: receipt.ExplorerURL,
	}); err != nil {
		r.log.WarnContext(ctx, "post succeeded but status update failed",
			"anchor_id", a.ID.String(), "block_id", receipt.BlockID, "error", err)
		return
	}
	if err := r.repo.RecordRetry(ctx, a.ID, ""); err != nil {
		r.log.WarnContext(ctx, "retry log write failed",
			"anchor_id", a.ID.String(), "error", err)
	}
	sum.Retried++
	r.log.InfoContext(ctx, "anchor resubmitted",
		"anchor_id", a.ID.String(), "block_id", receipt.BlockID, "attempt", n+1)
}

// recordFailure logs a failed resubmission and returns the anchor to
// failed. The attempt that spends the budget carries the review message.
func (r *Reconciler) recordFailure(ctx context.Context, a *anchor.Anchor, n int, cause error, sum *Summary) {
	if err := r.repo.RecordRetry(ctx, a.ID, cause.Error()); err != nil {
		r.log.WarnContext(ctx, "retry log write failed",
			"anchor_id", a.ID.String(), "error", err)
	}
	msg := cause.Error()
	if n+1 >= r.maxRetries {
		msg = reviewMessage
		sum.MarkedForReview++
	}
	if err := r.repo.UpdateStatus(ctx, a.ID, anchor.StatusFailed,
		anchor.StatusUpdate{ErrorMessage: msg}); err != nil {
		r.log.WarnContext(ctx, "fail mark rejected",
			"anchor_id", a.ID.String(), "error", err)
	}
	sum.Failed++
	r.log.WarnContext(ctx, "anchor resubmission failed",
		"anchor_id", a.ID.String(), "attempt", n+1, "error", cause)
}
