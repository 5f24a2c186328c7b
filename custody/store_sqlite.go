package custody

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable SecurityStore. The security counters are the one
// piece of state that must survive process restart.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens/creates a SQLite database and runs migrations.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS security_state (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  failed_attempts INTEGER NOT NULL,
  lockout_started_at INTEGER NOT NULL,
  locked_until INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
  k TEXT PRIMARY KEY,
  v TEXT NOT NULL
);
`)
	return err
}

// LoadSecurityState reads the single persisted row, returning the zero state
// when none exists yet.
func (s *SQLiteStore) LoadSecurityState(ctx context.Context) (SecurityState, error) {
	var state SecurityState
	var startedAt, until int64
	err := s.db.QueryRowContext(ctx, `
SELECT failed_attempts, lockout_started_at, locked_until FROM security_state WHERE id = 1`).
		Scan(&state.FailedAttempts, &startedAt, &until)
	if err == sql.ErrNoRows {
		return SecurityState{}, nil
	}
	if err != nil {
		return SecurityState{}, err
	}
	state.LockoutStartedAt = msToTime(startedAt)
	state.LockedUntil = msToTime(until)
	return state, nil
}

// SaveSecurityState upserts the single row in one statement, so a reader
// never observes a torn counter/lock pair.
func (s *SQLiteStore) SaveSecurityState(ctx context.Context, state SecurityState) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO security_state(id, failed_attempts, lockout_started_at, locked_until)
VALUES(1,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  failed_attempts=excluded.failed_attempts,
  lockout_started_at=excluded.lockout_started_at,
  locked_until=excluded.locked_until`,
		state.FailedAttempts, timeToMs(state.LockoutStartedAt), timeToMs(state.LockedUntil),
	)
	return err
}

// BiometricEnabled reads the externally-toggled biometric setting.
func (s *SQLiteStore) BiometricEnabled(ctx context.Context) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM settings WHERE k = 'biometric_enabled'`).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// SetBiometricEnabled writes the setting; called only on an explicit toggle.
func (s *SQLiteStore) SetBiometricEnabled(ctx context.Context, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings(k,v) VALUES('biometric_enabled',?)
ON CONFLICT(k) DO UPDATE SET v=excluded.v`, v)
	return err
}

func timeToMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
