package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"sealbox/go-core/internal/app"
	"sealbox/go-core/internal/cas"
	"sealbox/go-core/internal/config"
	"sealbox/go-core/internal/identity"
	"sealbox/go-core/internal/platform/privacylog"
	"sealbox/go-core/internal/securemem"
	"sealbox/go-core/internal/session"
	"sealbox/go-core/internal/signing"
	"sealbox/go-core/internal/vault"
	"sealbox/go-core/internal/verification"
)

// localStack is the library composed against a local data directory: the
// same wiring the daemon uses, minus the RPC server. The session lives and
// dies with the process.
type localStack struct {
	svc      *app.Service
	deriver  *identity.Deriver
	sessions *session.Service
	signer   *signing.Signer
}

// openStack composes the full service against dataDir. An empty dataDir
// resolves through the config defaults and SEALBOX_DATA_DIR.
func openStack(dataDir string) (*localStack, error) {
	cfg := config.LoadFromPath("")
	if strings.TrimSpace(dataDir) != "" {
		cfg.DataDir = dataDir
	}

	secrets := securemem.NewManager()
	deriver := identity.NewDeriver(secrets)
	sessions := session.NewService(deriver, cfg.SessionTimeout)
	signer := signing.NewSigner(sessions)
	verifier := verification.NewVerifier()

	kv, err := cas.OpenBadger(cfg.StoreDir(), cfg.SyncWrites, quietLogger())
	if err != nil {
		return nil, fmt.Errorf("open content store: %w", err)
	}
	store := cas.NewStore(kv)

	svc, err := app.NewService(app.Deps{
		Logger:   quietLogger(),
		Secrets:  secrets,
		Deriver:  deriver,
		Sessions: sessions,
		Signer:   signer,
		Verifier: verifier,
		Vault:    vault.NewAdapter(signer, verifier, store),
		Content:  store,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &localStack{svc: svc, deriver: deriver, sessions: sessions, signer: signer}, nil
}

// login derives the identity and starts the in-process session, reporting
// derivation progress when stderr is a terminal.
func (s *localStack) login(ctx context.Context, passphrase, username string) error {
	pair, seed, err := s.deriver.DeriveIdentity(ctx, passphrase, username, derivationProgress()...)
	if err != nil {
		return err
	}
	if err := s.sessions.Start(username, pair, seed); err != nil {
		seed.Clear()
		return err
	}
	return nil
}

func (s *localStack) close() {
	_ = s.svc.Close()
}

// failClosed releases the stack before exiting so the store flushes cleanly.
func (s *localStack) failClosed(err error) {
	s.close()
	fail(err)
}

// quietLogger keeps normal CLI runs silent. Warnings and errors still reach
// stderr, sanitized the same way the daemon's logs are.
func quietLogger() *slog.Logger {
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})
	return slog.New(privacylog.WrapHandler(base))
}

// readPassphrase resolves the passphrase without echoing it: from
// SEALBOX_PASSPHRASE when set, otherwise prompted on a terminal. The value
// is taken verbatim; inner whitespace is significant.
func readPassphrase() (string, error) {
	if pass := os.Getenv("SEALBOX_PASSPHRASE"); pass != "" {
		return pass, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", errors.New("passphrase required: set SEALBOX_PASSPHRASE or run on a terminal")
	}
	fmt.Fprint(os.Stderr, "passphrase: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}

// readContent loads the payload for a subcommand: from path, or from stdin
// when path is empty or "-".
func readContent(path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	return os.ReadFile(path)
}

// derivationProgress reports KDF progress on stderr when it is a terminal,
// so piped output stays clean.
func derivationProgress() []identity.DeriveOption {
	if !term.IsTerminal(int(syscall.Stderr)) {
		return nil
	}
	return []identity.DeriveOption{identity.WithProgress(func(p identity.ProgressUpdate) {
		if p.Done {
			fmt.Fprint(os.Stderr, "\rderiving identity... done\n")
			return
		}
		fmt.Fprintf(os.Stderr, "\rderiving identity... %3.0f%%", p.Fraction*100)
	})}
}
