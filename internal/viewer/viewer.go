// Package viewer serves the dashboard: a static page plus a reverse proxy
// to the daemon API and live stream.
package viewer

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tsangwailam/mcclaw/internal/core"
	"github.com/tsangwailam/mcclaw/internal/health"
	"github.com/tsangwailam/mcclaw/internal/registry"
	"github.com/tsangwailam/mcclaw/internal/server"
)

//go:embed static
var staticFiles embed.FS

// Config describes one dashboard instance.
type Config struct {
	Port    int
	APIPort int
	// Registry, when set, records the viewer's pid and port while it runs.
	Registry registry.Registry
	Logger   *slog.Logger
}

// NewHandler serves the dashboard page and proxies /api to apiURL. The
// viewer answers its own health probe so it can be supervised separately.
func NewHandler(apiURL *url.URL, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	proxy := httputil.NewSingleHostReverseProxy(apiURL)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("Daemon API unreachable", "path", r.URL.Path, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, `{"error":"activity daemon unreachable at %s"}`+"\n", apiURL.Host)
	}

	static, _ := fs.Sub(staticFiles, "static")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(server.CORS)

	r.Get(health.Path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q,"pid":%d}`+"\n", core.FormatVersion(core.Version), os.Getpid())
	})
	r.Handle("/api/*", proxy)
	r.Handle("/*", http.FileServerFS(static))

	return r
}

// Run serves the dashboard until ctx is cancelled or SIGTERM/SIGINT
// arrives.
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	apiURL := &url.URL{Scheme: "http", Host: net.JoinHostPort("localhost", strconv.Itoa(cfg.APIPort))}
	listener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Port)))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.Port, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if cfg.Registry != nil {
		if err := cfg.Registry.Save(os.Getpid(), port); err != nil {
			logger.Warn("Failed to record dashboard pid", "error", err)
		}
		defer func() {
			if cfg.Registry.Load().PID == os.Getpid() {
				cfg.Registry.Clear()
			}
		}()
	}

	srv := &http.Server{
		Handler:           NewHandler(apiURL, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Dashboard listening", "port", port, "api", apiURL.String())
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()
	logger.Info("Shutting down dashboard")
	return srv.Shutdown(shutdownCtx)
}
