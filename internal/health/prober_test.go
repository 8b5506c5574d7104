package health

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return port
}

func TestIsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != Path {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	p := NewProber(quietLogger())
	if !p.IsHealthy(context.Background(), serverPort(t, srv)) {
		t.Error("expected healthy service")
	}
}

func TestIsHealthyNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewProber(quietLogger())
	if p.IsHealthy(context.Background(), serverPort(t, srv)) {
		t.Error("expected 503 to be unhealthy")
	}
}

func TestIsHealthyTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewProberWithTimeout(quietLogger(), 100*time.Millisecond)
	start := time.Now()
	if p.IsHealthy(context.Background(), serverPort(t, srv)) {
		t.Error("expected hung service to be unhealthy")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("probe did not respect timeout, took %v", elapsed)
	}
}

func TestIsHealthyNothingListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	p := NewProberWithTimeout(quietLogger(), 500*time.Millisecond)
	if p.IsHealthy(context.Background(), port) {
		t.Error("expected closed port to be unhealthy")
	}
}

func TestURL(t *testing.T) {
	p := NewProber(nil)
	if got, want := p.URL(3101), "http://localhost:3101/api/health"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
