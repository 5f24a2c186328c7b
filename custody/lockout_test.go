// ABOUTME: Tests for the escalating lockout policy.
// ABOUTME: Verifies threshold behavior, counter persistence, and strict reset rules.
package custody

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestPolicy(t *testing.T, store SecurityStore) (*LockoutPolicy, *time.Time) {
	t.Helper()
	clock := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	p, err := newLockoutPolicyWithClock(context.Background(), store, DefaultLockoutConfig(), zerolog.Nop(), func() time.Time {
		return clock
	})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	return p, &clock
}

func TestLockoutEngagesAtThreshold(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPolicy(t, NewMemoryStore())

	for i := 0; i < 4; i++ {
		st, err := p.RecordFailure(ctx)
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if st.Locked {
			t.Fatalf("locked after %d failures, threshold is 5", i+1)
		}
	}
	if got := p.RemainingAttempts(); got != 1 {
		t.Errorf("RemainingAttempts = %d, want 1", got)
	}

	st, err := p.RecordFailure(ctx)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if !st.Locked {
		t.Fatal("not locked after 5 failures")
	}
	if st.LockoutRemaining != 30*time.Second {
		t.Errorf("LockoutRemaining = %v, want 30s", st.LockoutRemaining)
	}
}

func TestLockoutSuccessResetsUnconditionally(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPolicy(t, NewMemoryStore())

	for i := 0; i < 7; i++ {
		if _, err := p.RecordFailure(ctx); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if !p.IsLocked() {
		t.Fatal("expected locked state")
	}

	if err := p.RecordSuccess(ctx); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	st := p.State()
	if st.Locked || st.FailedAttempts != 0 {
		t.Errorf("state after success = %+v, want unlocked with zero attempts", st)
	}
}

func TestLockoutCounterSurvivesCooldownExpiry(t *testing.T) {
	ctx := context.Background()
	p, clock := newTestPolicy(t, NewMemoryStore())

	for i := 0; i < 5; i++ {
		if _, err := p.RecordFailure(ctx); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if !p.IsLocked() {
		t.Fatal("expected locked state")
	}

	// Let the 30s window elapse: displayed state unlocks, counter stays.
	*clock = clock.Add(31 * time.Second)
	st := p.State()
	if st.Locked {
		t.Fatal("still locked after window elapsed")
	}
	if st.LockoutRemaining != 0 {
		t.Errorf("LockoutRemaining = %v, want 0", st.LockoutRemaining)
	}
	if st.FailedAttempts != 5 {
		t.Errorf("FailedAttempts = %d, want 5 (preserved until success)", st.FailedAttempts)
	}

	// The very next failure re-locks immediately from the preserved count.
	st, err := p.RecordFailure(ctx)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if !st.Locked {
		t.Fatal("expected immediate re-lock on failure after cooldown")
	}
	if st.FailedAttempts != 6 {
		t.Errorf("FailedAttempts = %d, want 6", st.FailedAttempts)
	}
}

func TestLockoutEscalation(t *testing.T) {
	ctx := context.Background()
	p, clock := newTestPolicy(t, NewMemoryStore())

	for i := 0; i < 10; i++ {
		if _, err := p.RecordFailure(ctx); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		// Walk the clock past each window so failures keep registering.
		*clock = clock.Add(31 * time.Minute)
	}
	if _, err := p.RecordFailure(ctx); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	st := p.State()
	if !st.Locked {
		t.Fatal("expected locked state")
	}
	if st.LockoutRemaining != 5*time.Minute {
		t.Errorf("LockoutRemaining = %v, want 5m at 11 failures", st.LockoutRemaining)
	}
}

func TestLockoutStatePersistsAcrossReload(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p, _ := newTestPolicy(t, store)

	for i := 0; i < 3; i++ {
		if _, err := p.RecordFailure(ctx); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	// A fresh policy over the same store sees the persisted counter.
	p2, _ := newTestPolicy(t, store)
	if got := p2.State().FailedAttempts; got != 3 {
		t.Errorf("reloaded FailedAttempts = %d, want 3", got)
	}
	if got := p2.RemainingAttempts(); got != 2 {
		t.Errorf("reloaded RemainingAttempts = %d, want 2", got)
	}
}
