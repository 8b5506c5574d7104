// Package server runs the activity daemon: the HTTP API, the live stream
// and the store behind them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tsangwailam/mcclaw/internal/activity"
	"github.com/tsangwailam/mcclaw/internal/core"
	"github.com/tsangwailam/mcclaw/internal/hub"
	"github.com/tsangwailam/mcclaw/internal/registry"
	"github.com/tsangwailam/mcclaw/internal/store"
)

// ShutdownTimeout bounds how long in-flight requests may take once a
// shutdown signal arrives.
const ShutdownTimeout = 5 * time.Second

// Config describes one daemon instance.
type Config struct {
	Port        int
	DatabaseURL string
	// Registry, when set, records the daemon's pid and port while it runs.
	Registry registry.Registry
	// ConfigFile is watched for changes when set.
	ConfigFile string
	Logger     *slog.Logger
}

// Server is a running daemon.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	store    *store.SQLStore
	hub      *hub.Hub
	http     *http.Server
	listener net.Listener
}

// New opens the store, applies the schema and binds the listen port.
func New(ctx context.Context, cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	addr := net.JoinHostPort("", strconv.Itoa(cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to listen on port %d: %w", cfg.Port, err)
	}

	h := hub.New(logger)
	ingestor := activity.NewIngestor(st, h, logger)
	service := activity.NewService(st, logger)

	return &Server{
		cfg:    cfg,
		logger: logger,
		store:  st,
		hub:    h,
		http: &http.Server{
			Handler:           NewRouter(ingestor, service, h, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
	}, nil
}

// Addr is the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run serves until ctx is cancelled or SIGTERM/SIGINT arrives, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	port := s.listener.Addr().(*net.TCPAddr).Port
	if s.cfg.Registry != nil {
		if err := s.cfg.Registry.Save(os.Getpid(), port); err != nil {
			s.logger.Warn("Failed to record daemon pid", "error", err)
		}
		defer s.clearRegistry()
	}

	if s.cfg.ConfigFile != "" {
		watchConfig(ctx, s.cfg.ConfigFile, s.logger)
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Activity daemon listening",
			"port", port,
			"pid", os.Getpid(),
			"database", store.ProviderFor(s.cfg.DatabaseURL),
			"version", core.FormatVersion(core.Version))
		serveErr <- s.http.Serve(s.listener)
	}()

	var err error
	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received, stopping daemon")
	}

	s.shutdown()
	return err
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	// Websocket connections are hijacked and not tracked by Shutdown.
	s.hub.Close()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP shutdown error", "error", err)
	}
	s.listener.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Error("Failed to close database", "error", err)
	} else {
		s.logger.Debug("Database closed")
	}
}

// clearRegistry removes the registry entry unless another daemon has
// replaced it in the meantime.
func (s *Server) clearRegistry() {
	if s.cfg.Registry.Load().PID != os.Getpid() {
		return
	}
	if err := s.cfg.Registry.Clear(); err != nil {
		s.logger.Warn("Failed to clear daemon registry", "error", err)
	}
}
