// ABOUTME: Escalating lockout policy over persisted attempt counters.
// ABOUTME: The gate runs before any credential comparison; it is not advisory UI.
package custody

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SecurityState is the persisted credential-attempt record plus its displayed
// projection. FailedAttempts, LockoutStartedAt, and LockedUntil survive
// process restart; Locked and LockoutRemaining are computed against the
// current clock by LockoutPolicy.State.
type SecurityState struct {
	FailedAttempts   int
	LockoutStartedAt time.Time // zero when no lock has been engaged
	LockedUntil      time.Time // zero when no lock is pending

	Locked           bool
	LockoutRemaining time.Duration
}

// SecurityStore persists SecurityState and the biometric-enabled setting.
// SaveSecurityState must be atomic: a torn write could let an attacker reset
// the counter by killing the process mid-update.
type SecurityStore interface {
	LoadSecurityState(ctx context.Context) (SecurityState, error)
	SaveSecurityState(ctx context.Context, s SecurityState) error
	BiometricEnabled(ctx context.Context) (bool, error)
	SetBiometricEnabled(ctx context.Context, enabled bool) error
}

// LockoutPolicy tracks failed attempts and enforces stepped cooldown windows.
//
// The failure counter resets only on a successful unlock, never on natural
// cooldown expiry: a caller who waits out a lockout re-locks on the very next
// failure, with the escalated duration. This is a deliberate anti-automation
// choice carried over from the product.
type LockoutPolicy struct {
	store SecurityStore
	cfg   LockoutConfig
	log   zerolog.Logger
	now   func() time.Time

	state SecurityState // persisted fields only
}

// NewLockoutPolicy loads the persisted state and returns a ready policy.
func NewLockoutPolicy(ctx context.Context, store SecurityStore, cfg LockoutConfig, logger zerolog.Logger) (*LockoutPolicy, error) {
	return newLockoutPolicyWithClock(ctx, store, cfg, logger, time.Now)
}

func newLockoutPolicyWithClock(ctx context.Context, store SecurityStore, cfg LockoutConfig, logger zerolog.Logger, now func() time.Time) (*LockoutPolicy, error) {
	state, err := store.LoadSecurityState(ctx)
	if err != nil {
		return nil, err
	}
	return &LockoutPolicy{store: store, cfg: cfg, log: logger, now: now, state: state}, nil
}

// State returns the displayed state: once the window elapses the lock flag
// drops and the remaining time reads zero, but the failure counter is
// preserved until RecordSuccess.
func (p *LockoutPolicy) State() SecurityState {
	s := p.state
	if !s.LockedUntil.IsZero() {
		if remaining := s.LockedUntil.Sub(p.now()); remaining > 0 {
			s.Locked = true
			s.LockoutRemaining = remaining
		}
	}
	return s
}

// IsLocked reports whether the gate currently rejects attempts.
func (p *LockoutPolicy) IsLocked() bool {
	return p.State().Locked
}

// RemainingAttempts is the number of failures left before the first lock
// engages; zero once the counter has reached the threshold.
func (p *LockoutPolicy) RemainingAttempts() int {
	r := p.cfg.threshold() - p.state.FailedAttempts
	if r < 0 {
		return 0
	}
	return r
}

// RecordFailure increments the persisted counter and, at or past the first
// schedule step, engages a lock for the cooldown that count has earned.
// The new state is persisted before the method returns.
func (p *LockoutPolicy) RecordFailure(ctx context.Context) (SecurityState, error) {
	p.state.FailedAttempts++
	if d := p.cfg.cooldownFor(p.state.FailedAttempts); d > 0 {
		now := p.now()
		p.state.LockoutStartedAt = now
		p.state.LockedUntil = now.Add(d)
		p.log.Warn().
			Int("failed_attempts", p.state.FailedAttempts).
			Dur("cooldown", d).
			Msg("lockout engaged")
	}
	if err := p.store.SaveSecurityState(ctx, p.state); err != nil {
		return SecurityState{}, err
	}
	return p.State(), nil
}

// RecordSuccess resets the counter and clears any lock unconditionally.
func (p *LockoutPolicy) RecordSuccess(ctx context.Context) error {
	p.state = SecurityState{}
	return p.store.SaveSecurityState(ctx, p.state)
}
