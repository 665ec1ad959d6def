// Package daemon assembles the full stack from configuration: secure memory,
// identity derivation, the session machine, the Badger-backed content store,
// signing and verification, the vault, session persistence, and the RPC
// server on top.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sealbox/go-core/internal/adapters/rpc"
	"sealbox/go-core/internal/app"
	"sealbox/go-core/internal/cas"
	"sealbox/go-core/internal/config"
	"sealbox/go-core/internal/identity"
	"sealbox/go-core/internal/securemem"
	"sealbox/go-core/internal/session"
	"sealbox/go-core/internal/sessionstore"
	"sealbox/go-core/internal/signing"
	"sealbox/go-core/internal/vault"
	"sealbox/go-core/internal/verification"
)

// timeoutCheckInterval is how often the idle-timeout loop wakes up; expiry
// itself is judged against the configured session timeout.
const timeoutCheckInterval = 30 * time.Second

// Runtime is a fully wired daemon: the composed service plus the RPC server
// that fronts it.
type Runtime struct {
	Config  config.Config
	Service *app.Service
	Server  *rpc.Server
}

// Build loads configuration, installs the sanitizing logger as the process
// default, and wires every component. The returned runtime owns the content
// store handle; Run closes it on the way out.
func Build(configPath string) (*Runtime, error) {
	cfg := config.LoadFromPath(configPath)
	logger := app.DefaultLogger(cfg.SlogLevel())
	if bootID, err := app.GeneratePrefixedID("boot"); err == nil {
		logger = logger.With("boot_id", bootID)
	}
	slog.SetDefault(logger)

	secrets := securemem.NewManager()
	deriver := identity.NewDeriver(secrets)
	sessions := session.NewService(deriver, cfg.SessionTimeout)
	signer := signing.NewSigner(sessions)
	verifier := verification.NewVerifier()

	kv, err := cas.OpenBadger(cfg.StoreDir(), cfg.SyncWrites, logger)
	if err != nil {
		return nil, fmt.Errorf("open content store: %w", err)
	}
	store := cas.NewStore(kv)

	var saved *sessionstore.Store
	if cfg.PersistSession {
		saved = sessionstore.NewStore(cfg.SessionFilePath(), secrets)
	}

	svc, err := app.NewService(app.Deps{
		Logger:        logger,
		Secrets:       secrets,
		Deriver:       deriver,
		Sessions:      sessions,
		Signer:        signer,
		Verifier:      verifier,
		Vault:         vault.NewAdapter(signer, verifier, store),
		Content:       store,
		SavedSessions: saved,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Info("daemon assembled",
		"data_dir", cfg.DataDir,
		"rpc_addr", cfg.RPCAddr,
		"session_timeout", cfg.SessionTimeout.String(),
		"persist_session", cfg.PersistSession,
	)
	return &Runtime{
		Config:  cfg,
		Service: svc,
		Server:  rpc.NewServer(cfg.RPCAddr, svc),
	}, nil
}

// Run serves RPC until ctx is cancelled, driving session idle timeouts in
// the background, then releases everything the runtime owns.
func (r *Runtime) Run(ctx context.Context) error {
	go r.Service.RunSessionTimeouts(ctx, timeoutCheckInterval)

	err := r.Server.Run(ctx)
	if closeErr := r.Service.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
