package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tsangwailam/mcclaw/internal/core"
	"github.com/tsangwailam/mcclaw/internal/health"
	"github.com/tsangwailam/mcclaw/internal/registry"
)

func TestServerRunRecordsAndClearsRegistry(t *testing.T) {
	dir := t.TempDir()
	reg := registry.NewFileRegistry(dir, "daemon", 3101)

	srv, err := New(context.Background(), Config{
		Port:        0,
		DatabaseURL: "file:" + filepath.Join(dir, "data", "mclaw.db"),
		Registry:    reg,
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	prober := health.NewProber(nil)
	tcpPort := srv.Addr().(*net.TCPAddr).Port

	deadline := time.Now().Add(3 * time.Second)
	for !prober.IsHealthy(context.Background(), tcpPort) {
		if time.Now().After(deadline) {
			t.Fatal("Server never became healthy")
		}
		time.Sleep(20 * time.Millisecond)
	}

	entry := reg.Load()
	if entry.PID != os.Getpid() || entry.Port != tcpPort {
		t.Errorf("Expected registry {%d %d}, got %+v", os.Getpid(), tcpPort, entry)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, err := os.Stat(reg.PIDPath()); !os.IsNotExist(err) {
		t.Error("Expected pid file to be removed on shutdown")
	}
	if _, err := http.Get(fmt.Sprintf("http://localhost:%d/api/health", tcpPort)); err == nil {
		t.Error("Expected server to stop listening")
	}
}

func TestNewFailsOnBusyPort(t *testing.T) {
	dir := t.TempDir()
	first, err := New(context.Background(), Config{DatabaseURL: "file:" + filepath.Join(dir, "a.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer first.shutdown()

	port := first.listener.Addr().(*net.TCPAddr).Port
	if _, err := New(context.Background(), Config{Port: port, DatabaseURL: "file:" + filepath.Join(dir, "b.db")}); err == nil {
		t.Error("Expected second server on the same port to fail")
	}
}

func TestReloadConfigAppliesVerbosity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.hcl")
	if err := os.WriteFile(path, []byte("verbose = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := reloadConfig(path, slogDiscard()); err != nil {
		t.Fatalf("reloadConfig failed: %v", err)
	}
	if core.Config.Verbose != 1 {
		t.Errorf("Expected verbose 1, got %d", core.Config.Verbose)
	}
	if core.LogLevel.Level() != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", core.LogLevel.Level())
	}

	if err := os.WriteFile(path, []byte("verbose = \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := reloadConfig(path, slogDiscard()); err == nil {
		t.Error("Expected broken config to be rejected")
	}
	if core.Config.Verbose != 1 {
		t.Error("Broken config replaced the previous configuration")
	}
	core.SetVerbosity(0)
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
