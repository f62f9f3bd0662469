package retry

import (
	"context"
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	policy := Policy{
		Base:        time.Minute,
		Max:         time.Hour,
		MaxAttempts: 3,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{5, 32 * time.Minute},
		{6, time.Hour},   // 64m capped to the hour
		{100, time.Hour}, // exponent capped before overflow
		{-1, time.Minute},
	}
	for _, tc := range cases {
		if got := Backoff(policy, tc.attempt); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffSubmitDefaults(t *testing.T) {
	policy := DefaultSubmitPolicy()

	// 1s, 2s, 4s for the three attempts, capped at 30s far out.
	if got := Backoff(policy, 0); got != time.Second {
		t.Errorf("attempt 0 delay = %v, want 1s", got)
	}
	if got := Backoff(policy, 2); got != 4*time.Second {
		t.Errorf("attempt 2 delay = %v, want 4s", got)
	}
	if got := Backoff(policy, 10); got != 30*time.Second {
		t.Errorf("attempt 10 delay = %v, want 30s cap", got)
	}
}

func TestJitterDeterminism(t *testing.T) {
	policy := Policy{Base: time.Second, Max: time.Minute, MaxJitter: time.Second}

	j1 := Jitter(policy, "anchor-1", 2)
	j2 := Jitter(policy, "anchor-1", 2)
	if j1 != j2 {
		t.Errorf("jitter non-deterministic: %v vs %v", j1, j2)
	}
	if j1 < 0 || j1 >= policy.MaxJitter {
		t.Errorf("jitter %v outside [0, %v)", j1, policy.MaxJitter)
	}

	j3 := Jitter(policy, "anchor-2", 2)
	if j3 == j1 {
		t.Logf("Warning: jitter collision for different keys (could be chance)")
	}

	policy.MaxJitter = 0
	if got := Jitter(policy, "anchor-1", 2); got != 0 {
		t.Errorf("jitter with zero MaxJitter = %v, want 0", got)
	}
}

func TestWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Wait(ctx, time.Minute); err != context.Canceled {
		t.Errorf("Wait on cancelled context = %v, want context.Canceled", err)
	}
}

func TestWaitZero(t *testing.T) {
	if err := Wait(context.Background(), 0); err != nil {
		t.Errorf("Wait(0) = %v, want nil", err)
	}
}
