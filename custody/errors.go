// ABOUTME: Typed errors for the credential and secret-material lifecycle.
// ABOUTME: Enables programmatic error handling with errors.Is() and errors.As().
package custody

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for programmatic handling.
var (
	ErrWeakPin              = errors.New("weak pin")
	ErrPinMismatch          = errors.New("pin confirmation mismatch")
	ErrEmptyName            = errors.New("wallet name required")
	ErrLockedOut            = errors.New("locked out")
	ErrInvalidCredential    = errors.New("invalid credential")
	ErrBiometricUnavailable = errors.New("biometric unavailable")
	ErrBiometricCancelled   = errors.New("biometric cancelled")
	ErrBiometricTimeout     = errors.New("biometric timeout")
	ErrClipboardUnavailable = errors.New("clipboard unavailable")
	ErrBackendFailure       = errors.New("backend failure")
	ErrAlreadyPopulated     = errors.New("secret container already populated")
	ErrSecretCleared        = errors.New("secret container cleared")
	ErrInvalidTransition    = errors.New("invalid flow transition")
	ErrThrottled            = errors.New("attempts throttled")
)

// LockoutError reports an attempt made while the lockout gate is engaged.
// It is surfaced as a countdown, not a retryable error: the attempt was
// rejected before any credential comparison took place.
type LockoutError struct {
	Remaining      time.Duration // time left in the current lockout window
	FailedAttempts int           // persisted failure count that produced the lock
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("locked out for %s after %d failed attempts",
		e.Remaining.Round(time.Second), e.FailedAttempts)
}

func (e *LockoutError) Is(target error) bool {
	return target == ErrLockedOut
}

// CredentialError reports a credential rejected by the backend, after the
// failure has been recorded against the lockout policy.
type CredentialError struct {
	RemainingAttempts int   // attempts left before the lockout engages
	Cause             error // underlying backend error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential rejected: %d attempts remaining before lockout", e.RemainingAttempts)
}

func (e *CredentialError) Unwrap() error {
	return e.Cause
}

func (e *CredentialError) Is(target error) bool {
	return target == ErrInvalidCredential
}

// BackendError wraps a storage or transport failure from the wallet backend.
// The owning flow stays in its current state so the operation can be retried;
// no secret material is ever included here.
type BackendError struct {
	Op  string // "create", "unlock", "complete"
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func (e *BackendError) Is(target error) bool {
	return target == ErrBackendFailure
}
