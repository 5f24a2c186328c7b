// ABOUTME: Wallet creation state machine: naming, PIN set/confirm, phrase
// ABOUTME: reveal, verification quiz, backup acknowledgment, completion.
package custody

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// CreationState enumerates the creation flow states, strictly ordered.
type CreationState int

const (
	CreationName CreationState = iota
	CreationPin
	CreationConfirmPin
	CreationMnemonic
	CreationVerify
	CreationBackupConfirm
	CreationDone
)

func (s CreationState) String() string {
	switch s {
	case CreationName:
		return "name"
	case CreationPin:
		return "pin"
	case CreationConfirmPin:
		return "confirm-pin"
	case CreationMnemonic:
		return "mnemonic"
	case CreationVerify:
		return "verify"
	case CreationBackupConfirm:
		return "backup-confirm"
	case CreationDone:
		return "done"
	default:
		return "unknown"
	}
}

// CreationStateMachine drives wallet setup. Only the listed forward
// transitions are permitted, plus two loop-backs: Verify→Verify on a wrong
// answer with attempts remaining (quiz regenerated), and Verify→Mnemonic on
// exhausting attempts (phrase pre-revealed, counter reset).
//
// The machine owns the flow's SecretContainer and guarantees it is cleared
// on every exit path: completion, back navigation, or teardown.
type CreationStateMachine struct {
	cfg       CreationConfig
	backend   WalletBackend
	clipboard ClipboardCapability
	log       zerolog.Logger

	state          CreationState
	name           string
	pin            []byte
	secrets        *SecretContainer
	revealed       bool
	quiz           []QuizQuestion
	verifyAttempts int
	acknowledged   bool
	clipTimer      *time.Timer
	closed         bool
}

// NewCreationStateMachine returns a machine in the Name state. Pass a nil
// clipboard when the host has none; copying degrades gracefully.
func NewCreationStateMachine(cfg CreationConfig, backend WalletBackend, clipboard ClipboardCapability) *CreationStateMachine {
	logger := cfg.Logger.With().Str("flow", "creation").Str("id", ulid.Make().String()).Logger()
	return &CreationStateMachine{
		cfg:       cfg,
		backend:   backend,
		clipboard: clipboard,
		log:       logger,
		state:     CreationName,
		secrets:   NewSecretContainer(),
	}
}

// State returns the current flow state.
func (m *CreationStateMachine) State() CreationState { return m.state }

// Secrets exposes the flow-owned container. Callers observe Version for
// change signals and must not retain references returned by its accessors.
func (m *CreationStateMachine) Secrets() *SecretContainer { return m.secrets }

// EnterName collects the display label. Only non-blank is required.
func (m *CreationStateMachine) EnterName(name string) error {
	if m.state != CreationName {
		return ErrInvalidTransition
	}
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	m.name = name
	m.state = CreationPin
	m.log.Debug().Str("state", m.state.String()).Msg("transition")
	return nil
}

// EnterPin validates the first PIN entry. A rejected PIN returns ErrWeakPin
// with the full validation result; the flow stays in Pin.
func (m *CreationStateMachine) EnterPin(pin string) (PinValidationResult, error) {
	if m.state != CreationPin {
		return PinValidationResult{}, ErrInvalidTransition
	}
	res := ValidatePin(pin)
	if !res.Valid {
		return res, ErrWeakPin
	}
	m.wipePin()
	m.pin = append(m.pin, pin...)
	m.state = CreationConfirmPin
	return res, nil
}

// ConfirmPin compares the confirmation byte-for-byte with the first entry.
// A mismatch discards only the confirmation and stays in ConfirmPin. On a
// match the backend generates the wallet and the mnemonic populates the
// flow's SecretContainer.
func (m *CreationStateMachine) ConfirmPin(ctx context.Context, confirm string) error {
	if m.state != CreationConfirmPin {
		return ErrInvalidTransition
	}
	if len(confirm) != len(m.pin) || subtle.ConstantTimeCompare([]byte(confirm), m.pin) != 1 {
		return ErrPinMismatch
	}

	mnemonic, err := m.backend.CreateWallet(ctx, string(m.pin), m.name)
	if err != nil {
		if errors.Is(err, ErrWeakPin) {
			m.wipePin()
			m.state = CreationPin
			return err
		}
		// Transient backend trouble: stay in ConfirmPin for retry.
		return &BackendError{Op: "create", Err: err}
	}
	if err := m.secrets.Set([]byte(mnemonic)); err != nil {
		return err
	}
	m.wipePin()
	m.revealed = false
	m.state = CreationMnemonic
	m.log.Debug().Str("state", m.state.String()).Msg("transition")
	return nil
}

// Reveal marks the phrase as shown and returns the word sequence. The phrase
// renders only after this explicit action.
func (m *CreationStateMachine) Reveal() ([]string, error) {
	if m.state != CreationMnemonic {
		return nil, ErrInvalidTransition
	}
	m.revealed = true
	return m.secrets.Words()
}

// Revealed reports whether the phrase is currently shown.
func (m *CreationStateMachine) Revealed() bool { return m.revealed }

// CopyToClipboard writes the phrase to the host clipboard and schedules an
// automatic clear after the configured delay, regardless of whether the user
// clears it manually first. The caller must have shown its own warning.
func (m *CreationStateMachine) CopyToClipboard() error {
	if m.state != CreationMnemonic || !m.revealed {
		return ErrInvalidTransition
	}
	if m.clipboard == nil {
		return ErrClipboardUnavailable
	}
	b, err := m.secrets.Bytes()
	if err != nil {
		return err
	}
	if err := m.clipboard.Write(string(b)); err != nil {
		return ErrClipboardUnavailable
	}
	if m.clipTimer != nil {
		m.clipTimer.Stop()
	}
	clipboard, logger := m.clipboard, m.log
	m.clipTimer = time.AfterFunc(m.cfg.ClipboardClearDelay, func() {
		// Best effort; failure to clear is logged, never fatal. The timer
		// touches only the clipboard bridge, never the container.
		if err := clipboard.Clear(); err != nil {
			logger.Warn().Err(err).Msg("clipboard clear failed")
		}
	})
	return nil
}

// BeginVerify generates the quiz from the container's word sequence and
// enters Verify. Requires the phrase to have been revealed.
func (m *CreationStateMachine) BeginVerify() ([]QuizQuestion, error) {
	if m.state != CreationMnemonic || !m.revealed {
		return nil, ErrInvalidTransition
	}
	words, err := m.secrets.Words()
	if err != nil {
		return nil, err
	}
	quiz, err := GenerateQuiz(words)
	if err != nil {
		return nil, err
	}
	m.quiz = quiz
	m.state = CreationVerify
	m.log.Debug().Str("state", m.state.String()).Msg("transition")
	return quiz, nil
}

// Quiz returns the current question set.
func (m *CreationStateMachine) Quiz() []QuizQuestion { return m.quiz }

// Answer checks one answer per question, in order. Correct answers advance
// to BackupConfirm. A wrong answer with attempts remaining regenerates the
// quiz in place; exhausting the attempts loops back to the phrase,
// pre-revealed, with the counter reset.
func (m *CreationStateMachine) Answer(answers []string) (bool, error) {
	if m.state != CreationVerify {
		return false, ErrInvalidTransition
	}
	if len(answers) != len(m.quiz) {
		return false, ErrInvalidTransition
	}
	correct := true
	for i, q := range m.quiz {
		if answers[i] != q.CorrectWord {
			correct = false
		}
	}
	if correct {
		m.quiz = nil
		m.verifyAttempts = 0
		m.state = CreationBackupConfirm
		m.log.Debug().Str("state", m.state.String()).Msg("transition")
		return true, nil
	}

	m.verifyAttempts++
	if m.verifyAttempts >= m.cfg.MaxVerifyAttempts {
		m.quiz = nil
		m.verifyAttempts = 0
		m.revealed = true
		m.state = CreationMnemonic
		m.log.Debug().Msg("verification attempts exhausted, re-showing phrase")
		return false, nil
	}

	words, err := m.secrets.Words()
	if err != nil {
		return false, err
	}
	quiz, err := GenerateQuiz(words)
	if err != nil {
		return false, err
	}
	m.quiz = quiz
	return false, nil
}

// AcknowledgeBackup records the explicit boolean acknowledgment required
// before completion.
func (m *CreationStateMachine) AcknowledgeBackup(ack bool) error {
	if m.state != CreationBackupConfirm {
		return ErrInvalidTransition
	}
	m.acknowledged = ack
	return nil
}

// Complete hands off to the backend's setup-completion call and clears the
// SecretContainer. Requires a prior acknowledgment. On backend failure the
// flow stays in BackupConfirm with the container intact for retry.
func (m *CreationStateMachine) Complete(ctx context.Context) error {
	if m.state != CreationBackupConfirm || !m.acknowledged {
		return ErrInvalidTransition
	}
	if err := m.backend.CompleteWalletSetup(ctx); err != nil {
		return &BackendError{Op: "complete", Err: err}
	}
	m.secrets.Clear()
	m.state = CreationDone
	m.log.Info().Msg("wallet setup complete")
	return nil
}

// Close tears the flow down: pending timers are cancelled and the container
// is cleared. Safe to call on every exit path, including after Complete.
func (m *CreationStateMachine) Close() {
	if m.closed {
		return
	}
	m.closed = true
	if m.clipTimer != nil {
		m.clipTimer.Stop()
		m.clipTimer = nil
	}
	m.wipePin()
	m.secrets.Clear()
}

func (m *CreationStateMachine) wipePin() {
	for i := range m.pin {
		m.pin[i] = 0
	}
	m.pin = m.pin[:0]
}
