// ABOUTME: Tests for the unlock state machine.
// ABOUTME: Verifies the lockout gate, digit handling, throttle, and biometric path.
package custody

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeBackend verifies a fixed PIN and counts calls so tests can assert the
// lockout gate runs before any backend verification.
type fakeBackend struct {
	pin           string
	mnemonic      string
	createErr     error
	unlockErr     error
	completeErr   error
	createCalls   int
	unlockCalls   int
	completeCalls int
}

func (b *fakeBackend) CreateWallet(ctx context.Context, pin, label string) (string, error) {
	b.createCalls++
	if b.createErr != nil {
		return "", b.createErr
	}
	b.pin = pin
	return b.mnemonic, nil
}

func (b *fakeBackend) UnlockWallet(ctx context.Context, credential string) error {
	b.unlockCalls++
	if b.unlockErr != nil {
		return b.unlockErr
	}
	if credential != b.pin {
		return ErrInvalidCredential
	}
	return nil
}

func (b *fakeBackend) CompleteWalletSetup(ctx context.Context) error {
	b.completeCalls++
	return b.completeErr
}

// fakeBiometric resolves with a fixed token or blocks until the context
// expires, depending on mode.
type fakeBiometric struct {
	token string
	err   error
	block bool
	calls int
}

func (f *fakeBiometric) Authenticate(ctx context.Context, reason string) (string, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func newUnlockMachine(t *testing.T, backend WalletBackend, biometric BiometricCapability, store SecurityStore) *UnlockStateMachine {
	t.Helper()
	cfg := DefaultUnlockConfig()
	m, err := NewUnlockStateMachine(context.Background(), cfg, backend, biometric, store)
	if err != nil {
		t.Fatalf("new unlock machine: %v", err)
	}
	return m
}

func pressAll(t *testing.T, m *UnlockStateMachine, pin string) UnlockStatus {
	t.Helper()
	var st UnlockStatus
	for _, r := range pin {
		var err error
		st, err = m.PressDigit(context.Background(), byte(r-'0'))
		if err != nil && !errors.Is(err, ErrInvalidCredential) &&
			!errors.Is(err, ErrLockedOut) && !errors.Is(err, ErrBackendFailure) &&
			!errors.Is(err, ErrThrottled) {
			t.Fatalf("PressDigit: %v", err)
		}
	}
	return st
}

func TestUnlockAcceptsCorrectPin(t *testing.T) {
	backend := &fakeBackend{pin: "385104"}
	m := newUnlockMachine(t, backend, nil, NewMemoryStore())
	defer m.Close()

	st := pressAll(t, m, "385104")
	if st.State != UnlockAccepted {
		t.Fatalf("state = %v, want accepted", st.State)
	}
	if backend.unlockCalls != 1 {
		t.Errorf("unlock calls = %d, want 1", backend.unlockCalls)
	}
	if st.FailedAttempts != 0 {
		t.Errorf("FailedAttempts = %d, want 0", st.FailedAttempts)
	}
}

func TestUnlockRejectsWrongPin(t *testing.T) {
	backend := &fakeBackend{pin: "385104"}
	m := newUnlockMachine(t, backend, nil, NewMemoryStore())
	defer m.Close()

	st := pressAll(t, m, "111111")
	if st.State != UnlockRejected {
		t.Fatalf("state = %v, want rejected", st.State)
	}
	if !st.Shake {
		t.Error("rejected state should request shake")
	}
	if st.EnteredDigits != 0 {
		t.Errorf("partial PIN not cleared: %d digits", st.EnteredDigits)
	}

	var credErr *CredentialError
	if !errors.As(st.Err, &credErr) {
		t.Fatalf("Err = %v, want *CredentialError", st.Err)
	}
	if credErr.RemainingAttempts != 4 {
		t.Errorf("RemainingAttempts = %d, want 4", credErr.RemainingAttempts)
	}

	// A fresh digit starts a new entry.
	st2, err := m.PressDigit(context.Background(), 3)
	if err != nil {
		t.Fatalf("PressDigit: %v", err)
	}
	if st2.State != UnlockEntering || st2.EnteredDigits != 1 {
		t.Errorf("state = %v digits = %d, want entering with 1", st2.State, st2.EnteredDigits)
	}
}

func TestUnlockLockedGateBlocksBackend(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{pin: "385104"}
	store := NewMemoryStore()
	if err := store.SaveSecurityState(ctx, SecurityState{
		FailedAttempts:   5,
		LockoutStartedAt: time.Now(),
		LockedUntil:      time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	m := newUnlockMachine(t, backend, nil, store)
	defer m.Close()

	st := pressAll(t, m, "385104")
	if st.State == UnlockSubmitting || st.State == UnlockAccepted {
		t.Fatalf("state = %v, locked machine must not submit", st.State)
	}
	if st.EnteredDigits != 0 {
		t.Errorf("locked machine accumulated %d digits", st.EnteredDigits)
	}
	if backend.unlockCalls != 0 {
		t.Errorf("backend called %d times while locked, want 0", backend.unlockCalls)
	}
	if !st.Locked {
		t.Error("status should report locked")
	}
}

func TestUnlockFailureEngagesLockout(t *testing.T) {
	backend := &fakeBackend{pin: "385104"}
	m := newUnlockMachine(t, backend, nil, NewMemoryStore())
	defer m.Close()

	for i := 0; i < 5; i++ {
		pressAll(t, m, "999999")
	}
	st := m.Status()
	if !st.Locked {
		t.Fatal("5 wrong PINs should engage the lockout")
	}
	if backend.unlockCalls != 5 {
		t.Errorf("unlock calls = %d, want 5", backend.unlockCalls)
	}
	if !errors.Is(st.Err, ErrLockedOut) {
		t.Errorf("Err = %v, want LockoutError", st.Err)
	}

	// Further digits are ignored without reaching the backend.
	pressAll(t, m, "385104")
	if backend.unlockCalls != 5 {
		t.Errorf("locked machine reached backend: %d calls", backend.unlockCalls)
	}
}

func TestUnlockBackendFailureKeepsDigits(t *testing.T) {
	backend := &fakeBackend{pin: "385104", unlockErr: errors.New("storage offline")}
	m := newUnlockMachine(t, backend, nil, NewMemoryStore())
	defer m.Close()

	st := pressAll(t, m, "385104")
	if !errors.Is(st.Err, ErrBackendFailure) {
		t.Fatalf("Err = %v, want BackendError", st.Err)
	}
	if st.State != UnlockEntering || st.EnteredDigits != PinLength {
		t.Fatalf("state = %v digits = %d, want entering with full PIN kept", st.State, st.EnteredDigits)
	}
	if st.FailedAttempts != 0 {
		t.Errorf("backend failure counted against lockout: %d", st.FailedAttempts)
	}

	// Retry succeeds once the backend recovers.
	backend.unlockErr = nil
	st2, err := m.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if st2.State != UnlockAccepted {
		t.Errorf("state = %v, want accepted", st2.State)
	}
}

func TestUnlockThrottle(t *testing.T) {
	backend := &fakeBackend{pin: "385104"}
	cfg := DefaultUnlockConfig()
	cfg.Throttle = ThrottleConfig{Interval: time.Hour, Burst: 1}
	m, err := NewUnlockStateMachine(context.Background(), cfg, backend, nil, NewMemoryStore())
	if err != nil {
		t.Fatalf("new unlock machine: %v", err)
	}
	defer m.Close()

	pressAll(t, m, "999999")
	if backend.unlockCalls != 1 {
		t.Fatalf("unlock calls = %d, want 1", backend.unlockCalls)
	}

	st := pressAll(t, m, "999999")
	if !errors.Is(st.Err, ErrThrottled) {
		t.Fatalf("Err = %v, want ErrThrottled", st.Err)
	}
	if backend.unlockCalls != 1 {
		t.Errorf("throttled submission reached backend: %d calls", backend.unlockCalls)
	}
}

func TestUnlockBiometricSuccess(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{pin: "bio-token-1"}
	bio := &fakeBiometric{token: "bio-token-1"}
	store := NewMemoryStore()
	if err := store.SetBiometricEnabled(ctx, true); err != nil {
		t.Fatalf("enable biometric: %v", err)
	}

	m := newUnlockMachine(t, backend, bio, store)
	defer m.Close()

	st, err := m.TryBiometric(ctx)
	if err != nil {
		t.Fatalf("TryBiometric: %v", err)
	}
	if st.State != UnlockAccepted {
		t.Errorf("state = %v, want accepted", st.State)
	}
	if bio.calls != 1 || backend.unlockCalls != 1 {
		t.Errorf("calls: biometric %d backend %d, want 1 and 1", bio.calls, backend.unlockCalls)
	}
}

func TestUnlockBiometricDisabled(t *testing.T) {
	backend := &fakeBackend{pin: "385104"}
	bio := &fakeBiometric{token: "tok"}
	m := newUnlockMachine(t, backend, bio, NewMemoryStore())
	defer m.Close()

	if _, err := m.TryBiometric(context.Background()); !errors.Is(err, ErrBiometricUnavailable) {
		t.Fatalf("err = %v, want ErrBiometricUnavailable", err)
	}
	if bio.calls != 0 {
		t.Errorf("capability invoked while disabled: %d calls", bio.calls)
	}
}

func TestUnlockBiometricRespectsLockout(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{pin: "385104"}
	bio := &fakeBiometric{token: "385104"}
	store := NewMemoryStore()
	if err := store.SetBiometricEnabled(ctx, true); err != nil {
		t.Fatalf("enable biometric: %v", err)
	}
	if err := store.SaveSecurityState(ctx, SecurityState{
		FailedAttempts:   5,
		LockoutStartedAt: time.Now(),
		LockedUntil:      time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	m := newUnlockMachine(t, backend, bio, store)
	defer m.Close()

	if _, err := m.TryBiometric(ctx); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("err = %v, want ErrLockedOut", err)
	}
	if bio.calls != 0 || backend.unlockCalls != 0 {
		t.Errorf("locked machine invoked capability/backend: %d/%d", bio.calls, backend.unlockCalls)
	}
}

func TestUnlockBiometricTimeout(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{pin: "385104"}
	bio := &fakeBiometric{block: true}
	store := NewMemoryStore()
	if err := store.SetBiometricEnabled(ctx, true); err != nil {
		t.Fatalf("enable biometric: %v", err)
	}

	cfg := DefaultUnlockConfig()
	cfg.BiometricTimeout = 10 * time.Millisecond
	m, err := NewUnlockStateMachine(ctx, cfg, backend, bio, store)
	if err != nil {
		t.Fatalf("new unlock machine: %v", err)
	}
	defer m.Close()

	st, err := m.TryBiometric(ctx)
	if !errors.Is(err, ErrBiometricTimeout) {
		t.Fatalf("err = %v, want ErrBiometricTimeout", err)
	}
	if st.State != UnlockIdle {
		t.Errorf("state = %v, want idle (machine must stay usable)", st.State)
	}
	if st.FailedAttempts != 0 {
		t.Errorf("capability timeout counted against lockout: %d", st.FailedAttempts)
	}
	if backend.unlockCalls != 0 {
		t.Errorf("timed-out attempt reached backend: %d calls", backend.unlockCalls)
	}
}

func TestUnlockBiometricCancelled(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{pin: "385104"}
	bio := &fakeBiometric{err: ErrBiometricCancelled}
	store := NewMemoryStore()
	if err := store.SetBiometricEnabled(ctx, true); err != nil {
		t.Fatalf("enable biometric: %v", err)
	}

	m := newUnlockMachine(t, backend, bio, store)
	defer m.Close()

	st, err := m.TryBiometric(ctx)
	if !errors.Is(err, ErrBiometricCancelled) {
		t.Fatalf("err = %v, want ErrBiometricCancelled", err)
	}
	if st.State != UnlockIdle || st.FailedAttempts != 0 {
		t.Errorf("cancel must leave idle with no penalty, got %v/%d", st.State, st.FailedAttempts)
	}

	// The PIN path still works after degradation.
	st = pressAll(t, m, "385104")
	if st.State != UnlockAccepted {
		t.Errorf("state = %v, want accepted", st.State)
	}
}

func TestUnlockBiometricWrongTokenCounts(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{pin: "385104"}
	bio := &fakeBiometric{token: "stale-token"}
	store := NewMemoryStore()
	if err := store.SetBiometricEnabled(ctx, true); err != nil {
		t.Fatalf("enable biometric: %v", err)
	}

	m := newUnlockMachine(t, backend, bio, store)
	defer m.Close()

	st, err := m.TryBiometric(ctx)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}
	if st.FailedAttempts != 1 {
		t.Errorf("FailedAttempts = %d, want 1 (rejected token counts)", st.FailedAttempts)
	}
}

func TestUnlockIgnoresInputWhileSubmitting(t *testing.T) {
	// A backend that feeds a digit back into the machine mid-verification
	// must see it ignored: Submitting is a re-entrancy guard.
	store := NewMemoryStore()
	var m *UnlockStateMachine
	backend := &reentrantBackend{}
	cfg := DefaultUnlockConfig()
	var err error
	m, err = NewUnlockStateMachine(context.Background(), cfg, backend, nil, store)
	if err != nil {
		t.Fatalf("new unlock machine: %v", err)
	}
	defer m.Close()
	backend.machine = m

	st := pressAll(t, m, "385104")
	if backend.sawState != UnlockSubmitting {
		t.Errorf("mid-verification press left state %v, want submitting", backend.sawState)
	}
	if st.State != UnlockAccepted {
		t.Errorf("state = %v, want accepted", st.State)
	}
}

type reentrantBackend struct {
	machine  *UnlockStateMachine
	sawState UnlockState
}

func (b *reentrantBackend) CreateWallet(ctx context.Context, pin, label string) (string, error) {
	return "", fmt.Errorf("unsupported")
}

func (b *reentrantBackend) UnlockWallet(ctx context.Context, credential string) error {
	st, _ := b.machine.PressDigit(ctx, 7)
	b.sawState = st.State
	if !strings.HasPrefix(credential, "385104") {
		return ErrInvalidCredential
	}
	return nil
}

func (b *reentrantBackend) CompleteWalletSetup(ctx context.Context) error { return nil }
