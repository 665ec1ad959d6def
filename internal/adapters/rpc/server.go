// Package rpc exposes the daemon service over JSON-RPC 2.0 on a localhost
// HTTP listener, plus an SSE stream for session changes, a health probe,
// and the Prometheus endpoint. Security knobs (token, rate limits, stream
// caps) are read from the environment only, never from config files.
package rpc

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sealbox/go-core/internal/app"
	"sealbox/go-core/internal/metrics"
	"sealbox/go-core/internal/vault"
	"sealbox/go-core/pkg/models"
)

const DefaultRPCAddr = "127.0.0.1:8747"

// DaemonService is the surface the adapter needs from the composed
// application. Satisfied by *app.Service.
type DaemonService interface {
	Metrics() *metrics.Metrics
	Login(ctx context.Context, passphrase, username string, persist bool) (models.SessionInfo, error)
	Preview(ctx context.Context, passphrase, username string) (app.IdentityPreview, error)
	Lock() error
	Unlock(ctx context.Context, passphrase string) error
	Logout() error
	Status() models.SessionInfo
	TouchActivity()
	SubscribeSessionEvents(fromSeq uint64) ([]models.SessionChange, <-chan models.SessionChange, func())
	StoreContent(ctx context.Context, content []byte, typeTag string) (models.StorageMetadata, error)
	RetrieveContent(ctx context.Context, address string) (*vault.SignedContent, error)
	HasContent(ctx context.Context, address string) (bool, error)
	DeleteContent(ctx context.Context, address string) (bool, error)
	ListContent(ctx context.Context, typeTag string) ([]models.StorageMetadata, error)
	VerifyDetached(content []byte, signatureB64, publicKeyB64 string) (bool, error)
	RecoveryExport(ctx context.Context, passphrase, username string) (string, error)
	RecoveryImport(phrase, username string) (models.SessionInfo, error)
	RestoreSession(ctx context.Context, passphrase string) (models.SessionInfo, error)
	HasSavedSession() bool
}

var _ DaemonService = (*app.Service)(nil)

type Server struct {
	httpServer  *http.Server
	service     DaemonService
	initErr     error
	rpcToken    string
	requireRPC  bool
	rpcLimiter  *rpcRateLimiter
	streams     *rpcStreamLimiter
	idempotency *rpcIdempotencyCache
}

// NewServer builds a server bound to rpcAddr. Token policy comes from the
// environment; a missing token in a production-like environment is a
// construction error surfaced by Run.
func NewServer(rpcAddr string, svc DaemonService) *Server {
	requireRPC := requiresRPCToken()
	rpcToken, err := resolveRPCToken()
	if err != nil {
		return &Server{initErr: err}
	}
	if requireRPC && rpcToken == "" {
		return &Server{
			initErr: errors.New("SEALBOX_RPC_TOKEN is required unless SEALBOX_REQUIRE_RPC_TOKEN=false or SEALBOX_ENV is test/development/local"),
		}
	}
	return newServer(rpcAddr, svc, rpcToken, requireRPC)
}

func newServer(rpcAddr string, svc DaemonService, rpcToken string, requireRPC bool) *Server {
	if rpcAddr == "" {
		rpcAddr = DefaultRPCAddr
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              rpcAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		service:     svc,
		rpcToken:    rpcToken,
		requireRPC:  requireRPC,
		rpcLimiter:  newRPCRateLimiter(loadRPCRateLimitConfig()),
		streams:     newRPCStreamLimiter(loadRPCStreamLimitConfig()),
		idempotency: newRPCIdempotencyCache(),
	}
	if s.rpcToken == "" && !s.requireRPC {
		slog.Default().Warn("SEALBOX_RPC_TOKEN is not set; RPC auth disabled")
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/rpc/stream", s.handleRPCStream)
	if svc != nil {
		mux.Handle("/metrics", svc.Metrics().Handler())
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully with a 5s
// deadline.
func (s *Server) Run(ctx context.Context) error {
	if s.initErr != nil {
		return s.initErr
	}
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// Addr reports the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin != "" && !isAllowedOrigin(origin) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return false
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, X-Sealbox-RPC-Token, X-Sealbox-Idempotency-Key")
	return true
}

func (s *Server) authorizeRPC(w http.ResponseWriter, r *http.Request) bool {
	if s.rpcToken == "" && !s.requireRPC {
		return true
	}
	token := s.extractRPCToken(r)
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.rpcToken)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) extractRPCToken(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get("X-Sealbox-RPC-Token"))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}

func requiresRPCToken() bool {
	if v, ok := parseBoolEnv("SEALBOX_REQUIRE_RPC_TOKEN"); ok {
		if !v && !isNonProdEnv() {
			// Fail-closed in production-like environments.
			return true
		}
		return v
	}
	if isNonProdEnv() {
		return false
	}
	return true
}

func isNonProdEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("SEALBOX_ENV"))) {
	case "test", "testing", "dev", "development", "local":
		return true
	default:
		return false
	}
}

func isAllowedOrigin(raw string) bool {
	if raw == "null" {
		allowNull, _ := parseBoolEnv("SEALBOX_ALLOW_NULL_ORIGIN")
		return allowNull
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.TrimSpace(u.Hostname())
	if host == "" {
		return false
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func parseBoolEnv(name string) (bool, bool) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch v {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func resolveRPCToken() (string, error) {
	token := strings.TrimSpace(os.Getenv("SEALBOX_RPC_TOKEN"))
	rotate := strings.EqualFold(token, "auto")
	if !rotate {
		if v, ok := parseBoolEnv("SEALBOX_RPC_TOKEN_ROTATE_ON_START"); ok && v {
			rotate = true
		}
	}
	if rotate {
		generated, err := generateRPCToken()
		if err != nil {
			return "", err
		}
		token = generated
		_ = os.Setenv("SEALBOX_RPC_TOKEN", token)
		if err := persistRPCToken(token); err != nil {
			return "", err
		}
	}
	return token, nil
}

func generateRPCToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "rpc_" + hex.EncodeToString(buf), nil
}

func persistRPCToken(token string) error {
	pathValue := strings.TrimSpace(os.Getenv("SEALBOX_RPC_TOKEN_FILE"))
	if pathValue == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(pathValue), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pathValue, []byte(token), 0o600)
}
