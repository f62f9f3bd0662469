// Package retry provides the backoff schedule shared by ledger submission
// and anchor reconciliation.
package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Policy bounds a retry schedule.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxJitter   time.Duration
	MaxAttempts int
}

// DefaultSubmitPolicy matches the ledger client defaults: three attempts,
// one second base delay, thirty second cap.
func DefaultSubmitPolicy() Policy {
	return Policy{
		Base:        time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 3,
	}
}

// DefaultReconcilePolicy matches the reconciliation defaults: sixty second
// base, one hour cap.
func DefaultReconcilePolicy() Policy {
	return Policy{
		Base:        time.Minute,
		Max:         time.Hour,
		MaxAttempts: 3,
	}
}

// Backoff returns the delay before attempt n: base * 2^n capped at Max.
// The result is stable for a given policy and attempt, so it can gate
// eligibility checks against a recorded last-attempt time.
func Backoff(policy Policy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			// Avoid overflow, cap exponent
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}

	delay := time.Duration(int64(policy.Base) * factor)
	if delay > policy.Max || delay < 0 {
		delay = policy.Max
	}
	return delay
}

// Jitter returns a deterministic jitter in [0, MaxJitter) derived from the
// key and attempt index. Identical inputs produce identical jitter, so
// replayed schedules stay reproducible.
func Jitter(policy Policy, key string, attempt int) time.Duration {
	if policy.MaxJitter <= 0 {
		return 0
	}

	seed := fmt.Sprintf("%s:%d", key, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])

	return time.Duration(basis % uint64(policy.MaxJitter)) //nolint:gosec // MaxJitter is always positive
}

// Wait sleeps for d or until the context is done, returning the context
// error in the latter case.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
