// ABOUTME: Reference WalletBackend backed by a local encrypted vault.
// ABOUTME: BIP39 mnemonic generation, argon2id PIN derivation, sealed seed storage.
package localvault

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"walletcore/custody"
)

// KDFParams configures Argon2id hardness values for PIN derivation.
type KDFParams struct {
	MemoryMB uint32
	Time     uint32
	Threads  uint8
	KeyLen   uint32
}

// DefaultKDFParams returns defaults reasonable for phones.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		MemoryMB: 64,
		Time:     2,
		Threads:  1,
		KeyLen:   32,
	}
}

// Backend implements custody.WalletBackend over a local SQLite vault. The
// bip39 seed is sealed with XChaCha20-Poly1305 under a key derived from the
// PIN; unlocking succeeds only when decryption authenticates.
type Backend struct {
	store  *Store
	params KDFParams
	log    zerolog.Logger
}

// Open opens/creates the vault database at path.
func Open(path string, params KDFParams, logger zerolog.Logger) (*Backend, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, err
	}
	return &Backend{store: store, params: params, log: logger}, nil
}

// Close closes the underlying store.
func (b *Backend) Close() error { return b.store.Close() }

// CreateWallet generates a 24-word mnemonic, seals the derived seed under
// the PIN, and persists the envelope. The mnemonic is returned for one-time
// display and is never stored.
func (b *Backend) CreateWallet(ctx context.Context, pin, label string) (string, error) {
	if res := custody.ValidatePin(pin); !res.Valid {
		return "", fmt.Errorf("%w: %s", custody.ErrWeakPin, res.Errors[0])
	}
	if strings.TrimSpace(label) == "" {
		return "", errors.New("label required")
	}

	entropy, err := bip39.NewEntropy(256) // 256 bits = 24 words
	if err != nil {
		return "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", err
	}
	seed := bip39.NewSeed(mnemonic, "")

	walletID := uuid.NewString()
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key, err := deriveKey(pin, salt, b.params)
	if err != nil {
		return "", err
	}
	env, err := seal(key, seed, vaultAAD(walletID, label))
	zero(seed)
	zero(key)
	if err != nil {
		return "", err
	}

	rec := WalletRecord{
		ID:        walletID,
		Label:     label,
		KDF:       b.params,
		SaltB64:   base64.StdEncoding.EncodeToString(salt),
		NonceB64:  env.NonceB64,
		CTB64:     env.CTB64,
	}
	if err := b.store.SaveWallet(ctx, rec); err != nil {
		return "", err
	}
	b.log.Info().Str("wallet", walletID).Msg("wallet created")
	return mnemonic, nil
}

// UnlockWallet verifies a credential by re-deriving the key and opening the
// sealed seed. An authentication failure maps to ErrInvalidCredential; the
// decrypted seed is wiped before returning.
func (b *Backend) UnlockWallet(ctx context.Context, credential string) error {
	rec, err := b.store.ActiveWallet(ctx)
	if err != nil {
		return err
	}

	salt, err := base64.StdEncoding.DecodeString(rec.SaltB64)
	if err != nil {
		return err
	}
	key, err := deriveKey(credential, salt, rec.KDF)
	if err != nil {
		return err
	}
	seed, err := open(key, Envelope{NonceB64: rec.NonceB64, CTB64: rec.CTB64}, vaultAAD(rec.ID, rec.Label))
	zero(key)
	if err != nil {
		return fmt.Errorf("%w: vault authentication failed", custody.ErrInvalidCredential)
	}
	zero(seed)
	return nil
}

// CompleteWalletSetup marks the wallet unlocked for the session. Idempotent.
func (b *Backend) CompleteWalletSetup(ctx context.Context) error {
	return b.store.SetSetting(ctx, "setup_complete", "1")
}

// SetupComplete reports whether setup has been completed.
func (b *Backend) SetupComplete(ctx context.Context) (bool, error) {
	v, err := b.store.GetSetting(ctx, "setup_complete", "0")
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// deriveKey expands a PIN + salt into the vault encryption key.
func deriveKey(pin string, salt []byte, params KDFParams) ([]byte, error) {
	mk := argon2.IDKey(
		[]byte(pin),
		salt,
		params.Time,
		params.MemoryMB*1024,
		params.Threads,
		params.KeyLen,
	)

	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, mk, nil, []byte("walletcore:v1:enc"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	zero(mk)
	return key, nil
}

// Envelope contains the sealed seed for storage.
type Envelope struct {
	NonceB64 string
	CTB64    string
}

// seal encrypts plaintext with XChaCha20-Poly1305 under aad binding.
func seal(key, plaintext, aad []byte) (Envelope, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Envelope{}, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, err
	}
	ct := aead.Seal(nil, nonce, plaintext, aad)
	return Envelope{
		NonceB64: base64.StdEncoding.EncodeToString(nonce),
		CTB64:    base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// open reverses seal.
func open(key []byte, env Envelope, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(env.NonceB64)
	if err != nil {
		return nil, err
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, errors.New("invalid nonce size")
	}
	ct, err := base64.StdEncoding.DecodeString(env.CTB64)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ct, aad)
}

func vaultAAD(walletID, label string) []byte {
	return []byte("walletcore:v1:" + walletID + ":" + label)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
