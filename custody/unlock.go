// ABOUTME: Unlock state machine: PIN digit entry, biometric path, and the
// ABOUTME: lockout gate that runs before any credential reaches the backend.
package custody

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// UnlockState enumerates the unlock flow states.
type UnlockState int

const (
	UnlockIdle UnlockState = iota
	UnlockEntering
	UnlockSubmitting
	UnlockAccepted
	UnlockRejected
	UnlockBiometricPending
)

func (s UnlockState) String() string {
	switch s {
	case UnlockIdle:
		return "idle"
	case UnlockEntering:
		return "entering"
	case UnlockSubmitting:
		return "submitting"
	case UnlockAccepted:
		return "accepted"
	case UnlockRejected:
		return "rejected"
	case UnlockBiometricPending:
		return "biometric-pending"
	default:
		return "unknown"
	}
}

// UnlockStatus is the renderable snapshot of the machine.
type UnlockStatus struct {
	State             UnlockState
	EnteredDigits     int
	FailedAttempts    int
	RemainingAttempts int // before the first lockout engages
	Locked            bool
	LockoutRemaining  time.Duration
	Shake             bool  // drive the rejection animation
	Err               error // last rejection reason, nil otherwise
}

// UnlockStateMachine gates wallet access behind a PIN or biometric credential.
// All transitions run on one control thread; the Submitting and
// BiometricPending states are explicit re-entrancy guards while a backend or
// capability call is outstanding.
type UnlockStateMachine struct {
	cfg       UnlockConfig
	backend   WalletBackend
	biometric BiometricCapability
	store     SecurityStore
	lockout   *LockoutPolicy
	limiter   *rate.Limiter
	log       zerolog.Logger

	state            UnlockState
	digits           []byte
	biometricEnabled bool
	lastErr          error
}

// NewUnlockStateMachine loads persisted security state and the
// biometric-enabled setting, returning a machine in Idle. Pass a nil
// capability when the device has no biometrics.
func NewUnlockStateMachine(ctx context.Context, cfg UnlockConfig, backend WalletBackend, biometric BiometricCapability, store SecurityStore) (*UnlockStateMachine, error) {
	logger := cfg.Logger.With().Str("flow", "unlock").Str("id", ulid.Make().String()).Logger()
	lockout, err := NewLockoutPolicy(ctx, store, cfg.Lockout, logger)
	if err != nil {
		return nil, err
	}
	enabled, err := store.BiometricEnabled(ctx)
	if err != nil {
		return nil, err
	}
	return &UnlockStateMachine{
		cfg:              cfg,
		backend:          backend,
		biometric:        biometric,
		store:            store,
		lockout:          lockout,
		limiter:          rate.NewLimiter(rate.Every(cfg.Throttle.Interval), cfg.Throttle.Burst),
		log:              logger,
		state:            UnlockIdle,
		biometricEnabled: enabled,
	}, nil
}

// Status returns the current snapshot for rendering.
func (m *UnlockStateMachine) Status() UnlockStatus {
	st := m.lockout.State()
	return UnlockStatus{
		State:             m.state,
		EnteredDigits:     len(m.digits),
		FailedAttempts:    st.FailedAttempts,
		RemainingAttempts: m.lockout.RemainingAttempts(),
		Locked:            st.Locked,
		LockoutRemaining:  st.LockoutRemaining,
		Shake:             m.state == UnlockRejected,
		Err:               m.lastErr,
	}
}

// BiometricAvailable reports whether the biometric path can be offered.
func (m *UnlockStateMachine) BiometricAvailable() bool {
	return m.biometric != nil && m.biometricEnabled
}

// SetBiometricEnabled persists the user's explicit toggle.
func (m *UnlockStateMachine) SetBiometricEnabled(ctx context.Context, enabled bool) error {
	if err := m.store.SetBiometricEnabled(ctx, enabled); err != nil {
		return err
	}
	m.biometricEnabled = enabled
	return nil
}

// PressDigit appends one digit to the partial PIN. Input is ignored while a
// submission is in flight or while the lockout gate is engaged; reaching the
// target length submits immediately.
func (m *UnlockStateMachine) PressDigit(ctx context.Context, digit byte) (UnlockStatus, error) {
	if digit > 9 {
		return m.Status(), errors.New("digit out of range")
	}
	switch m.state {
	case UnlockSubmitting, UnlockBiometricPending, UnlockAccepted:
		return m.Status(), nil
	case UnlockRejected:
		// A fresh digit starts a new entry.
		m.wipeDigits()
		m.lastErr = nil
		m.state = UnlockIdle
	}
	if m.lockout.IsLocked() {
		return m.Status(), nil
	}
	if len(m.digits) >= m.cfg.PinLength {
		// A full entry is waiting on Submit after a backend failure.
		return m.Status(), nil
	}
	m.digits = append(m.digits, digit)
	m.state = UnlockEntering
	if len(m.digits) < m.cfg.PinLength {
		return m.Status(), nil
	}
	return m.submit(ctx)
}

// Submit retries a full-length entry after a backend failure left the digits
// in place. It is a no-op unless the entry is complete.
func (m *UnlockStateMachine) Submit(ctx context.Context) (UnlockStatus, error) {
	if m.state != UnlockEntering || len(m.digits) != m.cfg.PinLength {
		return m.Status(), ErrInvalidTransition
	}
	return m.submit(ctx)
}

func (m *UnlockStateMachine) submit(ctx context.Context) (UnlockStatus, error) {
	m.state = UnlockSubmitting

	if !m.limiter.Allow() {
		m.wipeDigits()
		m.state = UnlockRejected
		m.lastErr = ErrThrottled
		m.log.Warn().Msg("submission throttled")
		return m.Status(), m.lastErr
	}

	// Enforcement gate: a locked state rejects the attempt before any
	// credential comparison, for PIN and biometric alike.
	if st := m.lockout.State(); st.Locked {
		m.wipeDigits()
		m.state = UnlockRejected
		m.lastErr = &LockoutError{Remaining: st.LockoutRemaining, FailedAttempts: st.FailedAttempts}
		return m.Status(), m.lastErr
	}

	pin := make([]byte, len(m.digits))
	for i, d := range m.digits {
		pin[i] = '0' + d
	}
	err := m.backend.UnlockWallet(ctx, string(pin))
	for i := range pin {
		pin[i] = 0
	}
	return m.settle(ctx, err, true)
}

// settle records the verification outcome. On the PIN path, a transient
// backend failure keeps the entered digits in place so the user can retry.
func (m *UnlockStateMachine) settle(ctx context.Context, err error, pinPath bool) (UnlockStatus, error) {
	switch {
	case err == nil:
		m.wipeDigits()
		m.lastErr = nil
		if serr := m.lockout.RecordSuccess(ctx); serr != nil {
			m.log.Error().Err(serr).Msg("reset security state")
		}
		m.state = UnlockAccepted
		m.log.Info().Msg("unlock accepted")
		return m.Status(), nil

	case errors.Is(err, ErrInvalidCredential):
		m.wipeDigits()
		st, serr := m.lockout.RecordFailure(ctx)
		if serr != nil {
			m.state = UnlockRejected
			m.lastErr = serr
			return m.Status(), serr
		}
		m.state = UnlockRejected
		if st.Locked {
			m.lastErr = &LockoutError{Remaining: st.LockoutRemaining, FailedAttempts: st.FailedAttempts}
		} else {
			m.lastErr = &CredentialError{RemainingAttempts: m.lockout.RemainingAttempts(), Cause: err}
		}
		return m.Status(), m.lastErr

	default:
		// Transient backend trouble: no lockout penalty. On the PIN path the
		// digits stay so the user can resubmit.
		m.lastErr = &BackendError{Op: "unlock", Err: err}
		if pinPath && len(m.digits) == m.cfg.PinLength {
			m.state = UnlockEntering
		} else {
			m.state = UnlockIdle
		}
		m.log.Warn().Err(err).Msg("backend unlock failed")
		return m.Status(), m.lastErr
	}
}

// TryBiometric runs the biometric path. It never bypasses the lockout gate: a
// locked state rejects biometric attempts identically to PIN attempts. A
// capability timeout, cancel, or unavailability is a CapabilityError that
// does not count against the lockout and leaves the machine usable in Idle.
func (m *UnlockStateMachine) TryBiometric(ctx context.Context) (UnlockStatus, error) {
	if m.state != UnlockIdle {
		return m.Status(), ErrInvalidTransition
	}
	if !m.BiometricAvailable() {
		return m.Status(), ErrBiometricUnavailable
	}
	if st := m.lockout.State(); st.Locked {
		m.lastErr = &LockoutError{Remaining: st.LockoutRemaining, FailedAttempts: st.FailedAttempts}
		return m.Status(), m.lastErr
	}

	m.state = UnlockBiometricPending
	bctx, cancel := context.WithTimeout(ctx, m.cfg.BiometricTimeout)
	defer cancel()

	token, err := m.biometric.Authenticate(bctx, m.cfg.BiometricReason)
	if err != nil {
		m.state = UnlockIdle
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			m.lastErr = ErrBiometricTimeout
		case errors.Is(err, ErrBiometricCancelled):
			m.lastErr = ErrBiometricCancelled
		default:
			m.lastErr = ErrBiometricUnavailable
		}
		m.log.Info().Err(err).Msg("biometric attempt degraded to pin path")
		return m.Status(), m.lastErr
	}

	// The token is a one-time credential feeding the same verification call.
	m.state = UnlockSubmitting
	return m.settle(ctx, m.backend.UnlockWallet(ctx, token), false)
}

// Close wipes the partial entry. Call on screen teardown under every exit
// path.
func (m *UnlockStateMachine) Close() {
	m.wipeDigits()
	m.state = UnlockIdle
}

func (m *UnlockStateMachine) wipeDigits() {
	for i := range m.digits {
		m.digits[i] = 0
	}
	m.digits = m.digits[:0]
}
