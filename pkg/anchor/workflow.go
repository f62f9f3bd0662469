package anchor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ared-network/iota-anchor/pkg/events"
	"github.com/ared-network/iota-anchor/pkg/merkle"
)

// defaultWindow is how far back the window reaches when nothing has been
// anchored before and no start time is given.
const defaultWindow = 24 * time.Hour

// Workflow runs the anchoring pipeline: fetch a window of events, build
// the Merkle tree, post the root to the ledger, persist the anchor and
// its proof items. Runs report failures through Result and never panic
// or propagate errors to the scheduler.
type Workflow struct {
	repo      Repository
	ledger    Ledger
	source    EventSource
	archiver  Archiver
	claims    *ClaimSet
	clock     Clock
	log       *slog.Logger
	minEvents int
	meta      map[string]string
}

func NewWorkflow(repo Repository, ledger Ledger, source EventSource, log *slog.Logger) *Workflow {
	if log == nil {
		log = slog.Default()
	}
	return &Workflow{
		repo:      repo,
		ledger:    ledger,
		source:    source,
		claims:    NewClaimSet(),
		clock:     wallClock{},
		log:       log.With("component", "workflow"),
		minEvents: 1,
	}
}

// WithArchiver stores proof bundles after each committed anchor.
func (w *Workflow) WithArchiver(a Archiver) *Workflow {
	w.archiver = a
	return w
}

// WithClock replaces the wall clock, for tests.
func (w *Workflow) WithClock(c Clock) *Workflow {
	w.clock = c
	return w
}

// WithMinEvents sets the event threshold below which incremental runs
// are skipped.
func (w *Workflow) WithMinEvents(n int) *Workflow {
	if n > 0 {
		w.minEvents = n
	}
	return w
}

// WithMeta attaches static metadata to every posted anchor message.
func (w *Workflow) WithMeta(m map[string]string) *Workflow {
	w.meta = m
	return w
}

// Claims exposes the advisory claim set so the reconciler can share it.
func (w *Workflow) Claims() *ClaimSet {
	return w.claims
}

// Run anchors the window [start, end). A nil end means now; a nil start
// falls back to the end of the last anchored window, then to end minus
// 24 h. With wait set the run blocks until the ledger reports inclusion.
func (w *Workflow) Run(ctx context.Context, start, end *time.Time, wait bool) *Result {
	began := w.clock.Now()

	windowEnd := w.clock.Now().UTC()
	if end != nil {
		windowEnd = end.UTC()
	}
	windowStart, err := w.resolveStart(ctx, start, windowEnd)
	if err != nil {
		return w.fail(ctx, began, nil, "resolve window start", err)
	}

	w.log.InfoContext(ctx, "anchor run started",
		"start", windowStart, "end", windowEnd, "wait", wait)

	win, err := w.source.FetchWindow(ctx, windowStart, windowEnd)
	if err != nil {
		return w.fail(ctx, began, nil, "fetch window", err)
	}
	if win.Empty() {
		w.log.InfoContext(ctx, "window empty, nothing to anchor",
			"start", windowStart, "end", windowEnd)
		return &Result{Success: true, Outcome: OutcomeEmpty, Duration: w.since(began)}
	}

	tree, err := merkle.BuildFromRawHashes(win.Hashes())
	if err != nil {
		return w.fail(ctx, began, nil, "build merkle tree", NewError(CodeInvalidInput, "build merkle tree", err))
	}
	digest := tree.Root

	key := ClaimKey(digest, windowStart, windowEnd)
	if !w.claims.TryClaim(key) {
		w.log.WarnContext(ctx, "window already being anchored", "digest", digest)
		return &Result{
			Outcome:    OutcomeSkipped,
			Digest:     digest,
			EventCount: win.Count(),
			Error:      "window already being anchored",
			Duration:   w.since(began),
		}
	}
	defer w.claims.Release(key)

	existing, err := w.repo.FindByKey(ctx, digest, windowStart, windowEnd)
	switch {
	case err == nil:
		w.log.InfoContext(ctx, "anchor already exists for window",
			"anchor_id", existing.ID, "digest", digest, "status", existing.Status)
		return &Result{
			Success:    true,
			Outcome:    OutcomeDuplicate,
			AnchorID:   existing.ID,
			Digest:     digest,
			EventCount: existing.ItemCount,
			BlockID:    existing.BlockID,
			Duration:   w.since(began),
		}
	case !errors.Is(err, ErrAnchorNotFound):
		return w.fail(ctx, began, nil, "duplicate check", err)
	}

	now := w.clock.Now().UTC()
	a := &Anchor{
		ID:        uuid.New(),
		Digest:    digest,
		Method:    MethodMerkleSHA256,
		StartTime: windowStart,
		EndTime:   windowEnd,
		ItemCount: win.Count(),
		Status:    StatusPending,
		CreatedAt: now,
	}

	// The record advances pending -> building -> posting in memory; only
	// the outcome is persisted.
	a.Status = StatusBuilding
	msg := NewMessage(digest, win.Count(), windowStart, windowEnd, now)
	msg.Meta = w.meta

	a.Status = StatusPosting
	receipt, err := w.ledger.PostAnchor(ctx, msg, wait)
	if err != nil {
		return w.fail(ctx, began, a, "post anchor", err)
	}

	postedAt := w.clock.Now().UTC()
	a.BlockID = receipt.BlockID
	a.Network = receipt.Network
	a.ExplorerURL = receipt.ExplorerURL
	a.PostedAt = &postedAt
	if receipt.Included {
		a.Status = StatusConfirmed
		a.ConfirmedAt = &postedAt
	} else {
		a.Status = StatusPosted
	}

	id, inserted, err := w.repo.UpsertAnchor(ctx, a)
	if err != nil {
		w.log.ErrorContext(ctx, "anchor posted but not persisted",
			"block_id", receipt.BlockID, "digest", digest, "error", err)
		return w.fail(ctx, began, nil, "persist anchor", err)
	}
	a.ID = id

	if inserted {
		items, err := w.buildItems(tree, win, a)
		if err == nil {
			err = w.repo.SaveItems(ctx, items)
		}
		if err != nil {
			// The tx wrote nothing; mark the anchor so reconciliation
			// picks it up.
			return w.fail(ctx, began, a, "persist items", err)
		}
		// Bundles are written only for confirmed anchors; a posted anchor
		// gets its bundle when reconciliation confirms it.
		if a.Status == StatusConfirmed {
			w.archive(ctx, a, items)
		}
	} else {
		w.log.InfoContext(ctx, "lost upsert race, items already owned",
			"anchor_id", id, "digest", digest)
	}

	w.log.InfoContext(ctx, "anchor committed",
		"anchor_id", id,
		"digest", digest,
		"block_id", receipt.BlockID,
		"status", a.Status,
		"events", win.Count())

	return &Result{
		Success:    true,
		Outcome:    OutcomeCreated,
		AnchorID:   id,
		Digest:     digest,
		EventCount: win.Count(),
		BlockID:    receipt.BlockID,
		Duration:   w.since(began),
	}
}

// RunDaily anchors the previous full UTC day and waits for inclusion.
func (w *Workflow) RunDaily(ctx context.Context) *Result {
	end := w.clock.Now().UTC().Truncate(24 * time.Hour)
	start := end.Add(-24 * time.Hour)
	return w.Run(ctx, &start, &end, true)
}

// RunIncremental anchors everything since the last anchored window, but
// only once enough events have accumulated.
func (w *Workflow) RunIncremental(ctx context.Context) *Result {
	began := w.clock.Now()
	end := began.UTC()

	last, err := w.source.LastAnchorEnd(ctx)
	if err != nil {
		return w.fail(ctx, began, nil, "resolve window start", err)
	}
	start := end.Add(-defaultWindow)
	if last != nil {
		start = last.UTC()
	}

	count, err := w.source.EventCountSince(ctx, start)
	if err != nil {
		return w.fail(ctx, began, nil, "count events", err)
	}
	if count < w.minEvents {
		w.log.DebugContext(ctx, "below event threshold, skipping run",
			"events", count, "min_events", w.minEvents)
		return &Result{
			Success:    true,
			Outcome:    OutcomeSkipped,
			EventCount: count,
			Duration:   w.since(began),
		}
	}
	return w.Run(ctx, &start, &end, false)
}

func (w *Workflow) resolveStart(ctx context.Context, start *time.Time, end time.Time) (time.Time, error) {
	if start != nil {
		return start.UTC(), nil
	}
	last, err := w.source.LastAnchorEnd(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if last != nil {
		return last.UTC(), nil
	}
	return end.Add(-defaultWindow), nil
}

func (w *Workflow) buildItems(tree *merkle.Tree, win *events.Window, a *Anchor) ([]*Item, error) {
	items := make([]*Item, len(win.Events))
	for i, evt := range win.Events {
		proof, err := tree.Prove(i)
		if err != nil {
			return nil, NewError(CodeInvalidInput, "generate proof", err)
		}
		item := &Item{
			ID:        uuid.New(),
			AnchorID:  a.ID,
			EventHash: evt.Hash,
			Position:  i,
			Proof:     proof.Compact(),
			CreatedAt: a.CreatedAt,
		}
		if evt.ID != uuid.Nil {
			eventID := evt.ID
			item.EventID = &eventID
		}
		items[i] = item
	}
	return items, nil
}

func (w *Workflow) archive(ctx context.Context, a *Anchor, items []*Item) {
	if w.archiver == nil {
		return
	}
	loc, err := w.archiver.Archive(ctx, a, items)
	if err != nil {
		w.log.WarnContext(ctx, "proof bundle archive failed",
			"anchor_id", a.ID, "error", err)
		return
	}
	w.log.InfoContext(ctx, "proof bundle archived", "anchor_id", a.ID, "location", loc)
}

// fail persists the failed anchor when one is in flight and returns the
// failure result.
func (w *Workflow) fail(ctx context.Context, began time.Time, a *Anchor, stage string, err error) *Result {
	res := &Result{
		Outcome:   OutcomeFailed,
		Error:     stage + ": " + err.Error(),
		ErrorCode: CodeOf(err),
		Duration:  w.since(began),
	}
	if a != nil {
		res.Digest = a.Digest
		res.EventCount = a.ItemCount
		// Persist even when the run was cancelled.
		w.markFailed(context.WithoutCancel(ctx), a, err)
		res.AnchorID = a.ID
	}
	w.log.ErrorContext(ctx, "anchor run failed", "stage", stage, "code", res.ErrorCode, "error", err)
	return res
}

// markFailed records the failure on the anchor row so reconciliation can
// find it. Best effort: a store error here is only logged.
func (w *Workflow) markFailed(ctx context.Context, a *Anchor, cause error) {
	a.Status = StatusFailed
	a.ErrorMessage = cause.Error()
	id, _, err := w.repo.UpsertAnchor(ctx, a)
	if err != nil {
		w.log.Error("failed anchor not persisted", "digest", a.Digest, "error", err)
		return
	}
	a.ID = id
}

func (w *Workflow) since(began time.Time) time.Duration {
	return w.clock.Now().Sub(began)
}
