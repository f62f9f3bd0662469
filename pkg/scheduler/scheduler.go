// Package scheduler fires the recurring anchor jobs: the daily window at a
// fixed UTC time, reconciliation on an interval, and optionally the
// incremental anchor. Fires are serialized across replicas through a leader
// lock so a multi-replica deployment still posts each window once.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ared-network/iota-anchor/pkg/anchor"
	"github.com/ared-network/iota-anchor/pkg/reconcile"
)

const defaultLockTTL = 10 * time.Minute

// AnchorRunner is the slice of the workflow the scheduler drives.
type AnchorRunner interface {
	RunDaily(ctx context.Context) *anchor.Result
	RunIncremental(ctx context.Context) *anchor.Result
}

// ReconcileRunner advances stuck anchors. Satisfied by *reconcile.Reconciler.
type ReconcileRunner interface {
	Run(ctx context.Context) (*reconcile.Summary, error)
}

// Scheduler owns the job timers. A fire that lands while the previous fire
// of the same job is still running is skipped, and a fire that misses its
// slot entirely (process down at midnight) is not replayed: the next daily
// run widens its window through the anchor-end watermark instead.
type Scheduler struct {
	anchors    AnchorRunner
	reconciler ReconcileRunner
	lock       Lock
	clock      anchor.Clock
	log        *slog.Logger

	hour, minute   int
	reconcileEvery time.Duration
	incrementEvery time.Duration
	lockTTL        time.Duration

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

// NewScheduler schedules the daily anchor at midnight UTC and reconciliation
// every 15 minutes, guarded by an in-process lock. Use the With options to
// change any of that before calling Run.
func NewScheduler(anchors AnchorRunner, reconciler ReconcileRunner, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		anchors:        anchors,
		reconciler:     reconciler,
		lock:           NewLocalLock(),
		clock:          anchor.WallClock(),
		log:            log.With("component", "scheduler"),
		reconcileEvery: 15 * time.Minute,
		lockTTL:        defaultLockTTL,
		inflight:       make(map[string]bool),
	}
}

// WithSchedule sets the UTC fire time of the daily anchor job.
func (s *Scheduler) WithSchedule(hour, minute int) *Scheduler {
	s.hour, s.minute = hour, minute
	return s
}

// WithReconcileInterval sets the reconciliation cadence. Zero disables it.
func (s *Scheduler) WithReconcileInterval(d time.Duration) *Scheduler {
	s.reconcileEvery = d
	return s
}

// WithIncrementalInterval enables the incremental anchor job at the given
// cadence. The job stays off unless this is set.
func (s *Scheduler) WithIncrementalInterval(d time.Duration) *Scheduler {
	s.incrementEvery = d
	return s
}

// WithLock replaces the leader lock, typically with the redis-backed one.
func (s *Scheduler) WithLock(l Lock) *Scheduler {
	s.lock = l
	return s
}

// WithClock replaces the clock used to compute the next daily fire.
func (s *Scheduler) WithClock(c anchor.Clock) *Scheduler {
	s.clock = c
	return s
}

// Run blocks firing jobs until ctx is cancelled, then waits for in-flight
// jobs to drain and returns the context error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.InfoContext(ctx, "scheduler started",
		"daily_utc", time.Date(0, 1, 1, s.hour, s.minute, 0, 0, time.UTC).Format("15:04"),
		"reconcile_every", s.reconcileEvery,
		"incremental_every", s.incrementEvery)

	daily := time.NewTimer(s.untilNextDaily())
	defer daily.Stop()

	var reconC, incrC <-chan time.Time
	if s.reconciler != nil && s.reconcileEvery > 0 {
		recon := time.NewTicker(s.reconcileEvery)
		defer recon.Stop()
		reconC = recon.C
	}
	if s.incrementEvery > 0 {
		incr := time.NewTicker(s.incrementEvery)
		defer incr.Stop()
		incrC = incr.C
	}

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-daily.C:
			s.spawn(ctx, jobDaily, s.runDaily)
			daily.Reset(s.untilNextDaily())
		case <-reconC:
			s.spawn(ctx, jobReconcile, s.runReconcile)
		case <-incrC:
			s.spawn(ctx, jobIncremental, s.runIncremental)
		}
	}
}

const (
	jobDaily       = "daily_anchor"
	jobReconcile   = "reconciliation"
	jobIncremental = "incremental_anchor"
)

// untilNextDaily returns the wait to the next configured UTC fire. A fire
// time that already passed today rolls to tomorrow.
func (s *Scheduler) untilNextDaily() time.Duration {
	now := s.clock.Now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// spawn runs the job in its own goroutine unless the previous fire of the
// same job is still in flight.
func (s *Scheduler) spawn(ctx context.Context, job string, fn func(context.Context)) {
	s.mu.Lock()
	if s.inflight[job] {
		s.mu.Unlock()
		s.log.WarnContext(ctx, "previous fire still running, skipping", "job", job)
		return
	}
	s.inflight[job] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, job)
			s.mu.Unlock()
		}()
		fn(ctx)
	}()
}

func (s *Scheduler) runDaily(ctx context.Context) {
	release, ok := s.acquire(ctx, jobDaily)
	if !ok {
		return
	}
	defer release()

	res := s.anchors.RunDaily(ctx)
	if res.Success {
		s.log.InfoContext(ctx, "daily anchor finished", "outcome", string(res.Outcome))
		return
	}
	s.log.ErrorContext(ctx, "daily anchor failed", "code", string(res.ErrorCode), "error", res.Error)
}

func (s *Scheduler) runReconcile(ctx context.Context) {
	release, ok := s.acquire(ctx, jobReconcile)
	if !ok {
		return
	}
	defer release()

	if _, err := s.reconciler.Run(ctx); err != nil {
		s.log.ErrorContext(ctx, "reconciliation failed", "error", err)
	}
}

func (s *Scheduler) runIncremental(ctx context.Context) {
	release, ok := s.acquire(ctx, jobIncremental)
	if !ok {
		return
	}
	defer release()

	res := s.anchors.RunIncremental(ctx)
	if !res.Success {
		s.log.ErrorContext(ctx, "incremental anchor failed", "code", string(res.ErrorCode), "error", res.Error)
	}
}

// acquire takes the leader lock for the named job. Losing the race is not an
// error: another replica is firing this slot.
func (s *Scheduler) acquire(ctx context.Context, job string) (func(), bool) {
	token, err := s.lock.Acquire(ctx, job, s.lockTTL)
	if err != nil {
		s.log.WarnContext(ctx, "leader lock unavailable", "job", job, "error", err)
		return nil, false
	}
	if token == "" {
		s.log.InfoContext(ctx, "another replica holds the lock", "job", job)
		return nil, false
	}
	return func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), job, token); err != nil {
			s.log.WarnContext(ctx, "leader lock release failed", "job", job, "error", err)
		}
	}, true
}
