// ABOUTME: CLI driving the wallet creation and unlock flows end to end
// ABOUTME: against the local encrypted vault backend.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"walletcore/custody"
	"walletcore/localvault"
)

const (
	defaultDataDir = "."
	vaultDBName    = "vault.db"
	securityDBName = "security.db"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		return
	}
	switch os.Args[1] {
	case "create":
		if err := cmdCreate(os.Args[2:]); err != nil {
			log.Fatal(err)
		}
	case "unlock":
		if err := cmdUnlock(os.Args[2:]); err != nil {
			log.Fatal(err)
		}
	case "status":
		if err := cmdStatus(os.Args[2:]); err != nil {
			log.Fatal(err)
		}
	default:
		usage()
	}
}

func usage() {
	fmt.Println(`usage: walletctl <command> [flags]

commands:
  create   set up a new wallet (name, PIN, recovery phrase, verification)
  unlock   unlock the wallet with a PIN
  status   show lockout and setup state`)
}

func newLogger(verbose bool) zerolog.Logger {
	if !verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func cmdCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	dir := fs.String("data", defaultDataDir, "data directory")
	label := fs.String("label", "", "wallet display name")
	verbose := fs.Bool("v", false, "verbose logging")
	mustParse(fs, args)

	logger := newLogger(*verbose)
	backend, err := localvault.Open(filepath.Join(*dir, vaultDBName), localvault.DefaultKDFParams(), logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = backend.Close()
	}()

	cfg := custody.DefaultCreationConfig()
	cfg.Logger = logger
	m := custody.NewCreationStateMachine(cfg, backend, nil)
	defer m.Close()

	in := bufio.NewReader(os.Stdin)
	ctx := context.Background()

	name := *label
	for {
		if name == "" {
			fmt.Print("wallet name: ")
			line, err := in.ReadString('\n')
			if err != nil {
				return err
			}
			name = strings.TrimSpace(line)
		}
		if err := m.EnterName(name); err != nil {
			fmt.Println("a name is required")
			name = ""
			continue
		}
		break
	}

	for {
		pin, err := readPin("choose a PIN (6 digits): ")
		if err != nil {
			return err
		}
		res, err := m.EnterPin(pin)
		if err != nil {
			fmt.Println(res.Errors[0])
			continue
		}
		if res.Strength == custody.PinAcceptable {
			fmt.Println("note: a PIN without repeats or runs is stronger")
		}
		for {
			confirm, err := readPin("confirm PIN: ")
			if err != nil {
				return err
			}
			if err := m.ConfirmPin(ctx, confirm); err != nil {
				if errors.Is(err, custody.ErrPinMismatch) {
					fmt.Println("PINs do not match, try again")
					continue
				}
				return err
			}
			break
		}
		break
	}

	words, err := m.Reveal()
	if err != nil {
		return err
	}
	fmt.Println("\nWrite down your recovery phrase. Anyone with these words controls the wallet.")
	for i, w := range words {
		fmt.Printf("%2d. %s\n", i+1, w)
	}

	for m.State() != custody.CreationBackupConfirm {
		var quiz []custody.QuizQuestion
		if m.State() == custody.CreationVerify {
			quiz = m.Quiz()
		} else {
			quiz, err = m.BeginVerify()
			if err != nil {
				return err
			}
		}
		answers := make([]string, len(quiz))
		for i, q := range quiz {
			fmt.Printf("\nword #%d? options: %s\n> ", q.Position, strings.Join(q.Options, ", "))
			line, err := in.ReadString('\n')
			if err != nil {
				return err
			}
			answers[i] = strings.TrimSpace(line)
		}
		ok, err := m.Answer(answers)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if m.State() == custody.CreationMnemonic {
			fmt.Println("\nverification failed; here is the phrase again:")
			words, _ := m.Secrets().Words()
			for i, w := range words {
				fmt.Printf("%2d. %s\n", i+1, w)
			}
		} else {
			fmt.Println("wrong answer, new questions:")
		}
	}

	fmt.Print("\nI have written down my recovery phrase [y/N]: ")
	line, err := in.ReadString('\n')
	if err != nil {
		return err
	}
	if strings.ToLower(strings.TrimSpace(line)) != "y" {
		return errors.New("setup abandoned: backup not confirmed")
	}
	if err := m.AcknowledgeBackup(true); err != nil {
		return err
	}
	if err := m.Complete(ctx); err != nil {
		return err
	}
	fmt.Println("wallet ready")
	return nil
}

func cmdUnlock(args []string) error {
	fs := flag.NewFlagSet("unlock", flag.ExitOnError)
	dir := fs.String("data", defaultDataDir, "data directory")
	verbose := fs.Bool("v", false, "verbose logging")
	mustParse(fs, args)

	logger := newLogger(*verbose)
	backend, err := localvault.Open(filepath.Join(*dir, vaultDBName), localvault.DefaultKDFParams(), logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = backend.Close()
	}()

	store, err := custody.OpenSQLiteStore(filepath.Join(*dir, securityDBName))
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	cfg := custody.DefaultUnlockConfig()
	cfg.Logger = logger
	ctx := context.Background()
	m, err := custody.NewUnlockStateMachine(ctx, cfg, backend, nil, store)
	if err != nil {
		return err
	}
	defer m.Close()

	if st := m.Status(); st.Locked {
		return fmt.Errorf("locked out, try again in %s", st.LockoutRemaining.Round(time.Second))
	}

	pin, err := readPin("PIN: ")
	if err != nil {
		return err
	}
	var st custody.UnlockStatus
	for _, r := range pin {
		if r < '0' || r > '9' {
			return errors.New("PIN must be digits")
		}
		st, err = m.PressDigit(ctx, byte(r-'0'))
	}

	switch {
	case st.State == custody.UnlockAccepted:
		fmt.Println("unlocked")
		return nil
	case st.Locked:
		return fmt.Errorf("locked out, try again in %s", st.LockoutRemaining.Round(time.Second))
	case err != nil:
		return fmt.Errorf("unlock failed: %w (%d attempts before lockout)", err, st.RemainingAttempts)
	default:
		return errors.New("incomplete PIN")
	}
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dir := fs.String("data", defaultDataDir, "data directory")
	mustParse(fs, args)

	ctx := context.Background()
	store, err := custody.OpenSQLiteStore(filepath.Join(*dir, securityDBName))
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	st, err := store.LoadSecurityState(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("failed attempts: %d\n", st.FailedAttempts)
	if !st.LockedUntil.IsZero() {
		fmt.Printf("lock engaged at: %s\n", st.LockoutStartedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("locked until:    %s\n", st.LockedUntil.Format("2006-01-02 15:04:05"))
	}

	backend, err := localvault.Open(filepath.Join(*dir, vaultDBName), localvault.DefaultKDFParams(), zerolog.Nop())
	if err != nil {
		return err
	}
	defer func() {
		_ = backend.Close()
	}()
	done, err := backend.SetupComplete(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("setup complete:  %v\n", done)
	return nil
}

func readPin(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func mustParse(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		log.Fatal(err)
	}
}
