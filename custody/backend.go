// ABOUTME: Contracts for the external collaborators the credential core
// ABOUTME: drives: wallet backend, biometric prompt, and clipboard bridge.
package custody

import "context"

// WalletBackend performs key generation, credential verification, and vault
// persistence. Implementations own at-rest encryption and durability; the
// credential core never sees the vault.
type WalletBackend interface {
	// CreateWallet generates the wallet and returns its mnemonic. Fails with
	// ErrWeakPin for a rejected PIN, or a BackendError otherwise.
	CreateWallet(ctx context.Context, pin, label string) (mnemonic string, err error)

	// UnlockWallet verifies a credential: a PIN or a one-time biometric
	// token. Fails with ErrInvalidCredential on a wrong credential, or a
	// BackendError on storage/transport trouble.
	UnlockWallet(ctx context.Context, credential string) error

	// CompleteWalletSetup marks the wallet unlocked for the session.
	// Idempotent.
	CompleteWalletSetup(ctx context.Context) error
}

// BiometricCapability is the host platform's biometric prompt. A nil
// capability means the device has none; flows degrade to the PIN path.
type BiometricCapability interface {
	// Authenticate prompts the user and returns a one-time credential token
	// equivalent to a PIN. The token is used once, synchronously, and never
	// cached. Returns ErrBiometricCancelled when the user dismisses the
	// prompt; respects ctx cancellation for the timeout window.
	Authenticate(ctx context.Context, reason string) (token string, err error)
}

// ClipboardCapability is the host platform's clipboard bridge. Best effort:
// a failed Clear is logged by the caller, never treated as fatal. A nil
// capability means copying is unavailable.
type ClipboardCapability interface {
	Write(text string) error
	Clear() error
}
