package custody

import (
	"time"

	"github.com/rs/zerolog"
)

// LockoutStep maps a failure count to the cooldown it earns. Steps must be
// ordered by ascending Attempts with non-decreasing Cooldown.
type LockoutStep struct {
	Attempts int
	Cooldown time.Duration
}

// LockoutConfig holds the escalating cooldown schedule.
type LockoutConfig struct {
	Schedule []LockoutStep
}

// DefaultLockoutConfig returns the stepped schedule: 5 failures lock for
// 30s, 10 for 5 minutes, 20 for 30 minutes.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		Schedule: []LockoutStep{
			{Attempts: 5, Cooldown: 30 * time.Second},
			{Attempts: 10, Cooldown: 5 * time.Minute},
			{Attempts: 20, Cooldown: 30 * time.Minute},
		},
	}
}

// threshold is the failure count at which the first lock engages.
func (c LockoutConfig) threshold() int {
	if len(c.Schedule) == 0 {
		return 0
	}
	return c.Schedule[0].Attempts
}

// cooldownFor returns the lock duration earned by the given failure count,
// or zero when the count is still below the first step.
func (c LockoutConfig) cooldownFor(attempts int) time.Duration {
	var d time.Duration
	for _, step := range c.Schedule {
		if attempts >= step.Attempts {
			d = step.Cooldown
		}
	}
	return d
}

// ThrottleConfig bounds how fast unlock submissions may arrive. This is
// defense in depth against scripted digit entry; the lockout policy remains
// the enforcement gate.
type ThrottleConfig struct {
	Interval time.Duration // time between allowed submissions
	Burst    int           // max burst size
}

// DefaultThrottleConfig allows a burst of 10 with ~2 submissions/second.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Interval: 500 * time.Millisecond,
		Burst:    10,
	}
}

// UnlockConfig controls the unlock state machine.
type UnlockConfig struct {
	PinLength        int
	BiometricTimeout time.Duration // fixed window for a biometric attempt
	BiometricReason  string        // shown by the platform prompt
	Lockout          LockoutConfig
	Throttle         ThrottleConfig
	Logger           zerolog.Logger
}

// DefaultUnlockConfig returns production defaults with a no-op logger.
func DefaultUnlockConfig() UnlockConfig {
	return UnlockConfig{
		PinLength:        PinLength,
		BiometricTimeout: 10 * time.Second,
		BiometricReason:  "Unlock your wallet",
		Lockout:          DefaultLockoutConfig(),
		Throttle:         DefaultThrottleConfig(),
		Logger:           zerolog.Nop(),
	}
}

// CreationConfig controls the wallet creation state machine.
type CreationConfig struct {
	MaxVerifyAttempts   int           // quiz attempts before looping back to the phrase
	ClipboardClearDelay time.Duration // auto-clear delay after a clipboard copy
	Logger              zerolog.Logger
}

// DefaultCreationConfig returns production defaults with a no-op logger.
func DefaultCreationConfig() CreationConfig {
	return CreationConfig{
		MaxVerifyAttempts:   3,
		ClipboardClearDelay: 15 * time.Second,
		Logger:              zerolog.Nop(),
	}
}
