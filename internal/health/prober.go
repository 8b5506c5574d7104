// Package health answers whether a service on a local port is serving.
package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Path is the endpoint every mclaw service answers on.
const Path = "/api/health"

// Response is the body served on Path.
type Response struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	PID     int    `json:"pid"`
}

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 2 * time.Second

// Prober probes http://<host>:<port>/api/health.
type Prober struct {
	host    string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewProber creates a prober for localhost with the default timeout.
func NewProber(logger *slog.Logger) *Prober {
	return NewProberWithTimeout(logger, DefaultTimeout)
}

// NewProberWithTimeout creates a prober with a custom timeout.
func NewProberWithTimeout(logger *slog.Logger, timeout time.Duration) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		host:    "localhost",
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// URL returns the health endpoint for port.
func (p *Prober) URL(port int) string {
	return fmt.Sprintf("http://%s:%d%s", p.host, port, Path)
}

// IsHealthy reports whether the endpoint answered 2xx within the timeout.
// Every failure, including a refused connection, is simply false.
func (p *Prober) IsHealthy(ctx context.Context, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL(port), nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Health probe failed", "port", port, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !healthy {
		p.logger.Debug("Health probe returned non-2xx", "port", port, "status", resp.StatusCode)
	}
	return healthy
}
