// ABOUTME: Fleet service orchestrator wiring store, account manager and HTTP admin API
// ABOUTME: Restores persisted accounts on start and shuts everything down in order

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/2389/fleet/internal/account"
	"github.com/2389/fleet/internal/auth"
	"github.com/2389/fleet/internal/config"
	"github.com/2389/fleet/internal/dedupe"
	"github.com/2389/fleet/internal/gateway"
	"github.com/2389/fleet/internal/identity"
	"github.com/2389/fleet/internal/protocol"
	"github.com/2389/fleet/internal/store"
)

// Server runs the account fleet and its admin API.
type Server struct {
	config     *config.Config
	manager    *account.Manager
	store      store.Store
	presence   *dedupe.Window
	registry   *prometheus.Registry
	verifier   auth.TokenVerifier
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds a Server from cfg. Nothing connects until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var observer gateway.Observer = gateway.LogObserver{Logger: logger.With("component", "events")}
	var presence *dedupe.Window
	if cfg.Gateway.PresenceDedupeTTL > 0 {
		presence = dedupe.New(cfg.Gateway.PresenceDedupeTTL, 100_000)
		observer = gateway.DedupeObserver{Next: observer, Window: presence}
	}

	mgr := account.NewManager(account.Config{
		Prober: identity.NewClient(cfg.Upstream.APIBaseURL, cfg.Upstream.UserAgent, cfg.Upstream.ProbeTimeout),
		Store:  st,
		Open: account.GatewayOpener(gateway.Options{
			URL: cfg.Upstream.GatewayURL,
			Properties: protocol.Properties{
				OS:      cfg.Gateway.OS,
				Browser: cfg.Gateway.Browser,
				Device:  cfg.Gateway.Device,
			},
			HandshakeTimeout:    cfg.Gateway.HandshakeTimeout,
			WriteTimeout:        cfg.Gateway.WriteTimeout,
			Reconnect:           cfg.Gateway.Reconnect,
			MaxReconnectElapsed: cfg.Gateway.MaxReconnectElapsed,
			ZombieDetection:     cfg.Gateway.ZombieDetection,
			Dialer:              gateway.NewWebsocketDialer(cfg.Gateway.HandshakeTimeout, cfg.Upstream.UserAgent),
			Observer:            observer,
			Metrics:             gateway.NewMetrics(registry),
			Logger:              logger.With("component", "gateway"),
		}),
		Logger: logger.With("component", "account-manager"),
	})

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	} else {
		logger.Warn("auth.jwt_secret not set, admin API is unauthenticated")
	}

	s := newServer(cfg, mgr, st, registry, verifier, logger)
	s.presence = presence
	return s, nil
}

func newServer(cfg *config.Config, mgr *account.Manager, st store.Store, registry *prometheus.Registry, verifier auth.TokenVerifier, logger *slog.Logger) *Server {
	s := &Server{
		config:   cfg,
		manager:  mgr,
		store:    st,
		registry: registry,
		verifier: verifier,
		logger:   logger.With("component", "server"),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Restore reopens every stored account. Failures are logged and skipped.
func (s *Server) Restore(ctx context.Context) error {
	records, err := s.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("loading accounts: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	n, err := s.manager.Restore(ctx, records)
	s.logger.Info("restored accounts", "restored", n, "stored", len(records))
	if err != nil {
		s.logger.Warn("some accounts could not be restored", "error", err)
	}
	return nil
}

// Run restores stored accounts, serves the admin API and blocks until ctx
// is canceled or the HTTP server fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Restore(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	// the run context is already canceled
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops the HTTP server, disconnects every account and closes the
// store. Stored accounts are kept for the next start.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down fleet")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "account shutdown", s.manager.Close(ctx))
	errs = appendCloseError(errs, "store close", s.store.Close())
	if s.presence != nil {
		s.presence.Close()
	}

	return errors.Join(errs...)
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}
