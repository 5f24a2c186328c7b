package localvault

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoWallet is returned when unlocking before any wallet exists.
var ErrNoWallet = errors.New("no wallet in vault")

// Store persists sealed wallet envelopes and vault settings locally.
type Store struct {
	db *sql.DB
}

// OpenStore opens/creates a SQLite database and runs migrations.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS wallets (
  id TEXT PRIMARY KEY,
  label TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  kdf_memory_mb INTEGER NOT NULL,
  kdf_time INTEGER NOT NULL,
  kdf_threads INTEGER NOT NULL,
  kdf_key_len INTEGER NOT NULL,
  salt_b64 TEXT NOT NULL,
  nonce_b64 TEXT NOT NULL,
  ct_b64 TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
  k TEXT PRIMARY KEY,
  v TEXT NOT NULL
);
`)
	return err
}

// WalletRecord is a stored wallet envelope plus the KDF parameters it was
// sealed with, so unlocking survives a parameter upgrade.
type WalletRecord struct {
	ID       string
	Label    string
	KDF      KDFParams
	SaltB64  string
	NonceB64 string
	CTB64    string
}

// SaveWallet persists a sealed wallet envelope.
func (s *Store) SaveWallet(ctx context.Context, rec WalletRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO wallets(id, label, created_at, kdf_memory_mb, kdf_time, kdf_threads, kdf_key_len, salt_b64, nonce_b64, ct_b64)
VALUES(?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Label, time.Now().Unix(),
		rec.KDF.MemoryMB, rec.KDF.Time, rec.KDF.Threads, rec.KDF.KeyLen,
		rec.SaltB64, rec.NonceB64, rec.CTB64,
	)
	return err
}

// ActiveWallet returns the most recently created wallet.
func (s *Store) ActiveWallet(ctx context.Context) (WalletRecord, error) {
	var rec WalletRecord
	err := s.db.QueryRowContext(ctx, `
SELECT id, label, kdf_memory_mb, kdf_time, kdf_threads, kdf_key_len, salt_b64, nonce_b64, ct_b64
FROM wallets ORDER BY created_at DESC, id DESC LIMIT 1`).
		Scan(&rec.ID, &rec.Label,
			&rec.KDF.MemoryMB, &rec.KDF.Time, &rec.KDF.Threads, &rec.KDF.KeyLen,
			&rec.SaltB64, &rec.NonceB64, &rec.CTB64)
	if err == sql.ErrNoRows {
		return WalletRecord{}, ErrNoWallet
	}
	if err != nil {
		return WalletRecord{}, err
	}
	return rec, nil
}

// GetSetting fetches vault metadata with default fallback.
func (s *Store) GetSetting(ctx context.Context, key, def string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM settings WHERE k = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return def, nil
	}
	return v, err
}

// SetSetting updates vault metadata.
func (s *Store) SetSetting(ctx context.Context, key, val string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings(k,v) VALUES(?,?)
ON CONFLICT(k) DO UPDATE SET v=excluded.v`, key, val)
	return err
}
