package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tsangwailam/mcclaw/internal/core"
	"github.com/tsangwailam/mcclaw/internal/health"
	"github.com/tsangwailam/mcclaw/internal/portlocator"
	"github.com/tsangwailam/mcclaw/internal/registry"
	"github.com/tsangwailam/mcclaw/internal/supervisor"
)

// service describes a background process managed by a Supervisor.
type service struct {
	name    string // registry and log file name
	title   string // used in messages
	command string // hidden subcommand the process runs
	config  func() core.ServiceConfig
}

var (
	daemonService = service{
		name:    "daemon",
		title:   "Daemon",
		command: "serve",
		config:  func() core.ServiceConfig { return core.Config.Daemon },
	}
	dashboardService = service{
		name:    "dashboard",
		title:   "Dashboard",
		command: "viewer",
		config:  func() core.ServiceConfig { return core.Config.Dashboard },
	}
)

func (s service) registry() *registry.FileRegistry {
	return registry.NewFileRegistry(core.Config.ConfigPath, s.name, s.config().Port)
}

// port resolves the port to act on: flag, registry, config.
func (s service) port(explicit int) int {
	if explicit > 0 {
		return explicit
	}
	return s.registry().Load().Port
}

// commandPattern is the command line fragment that identifies a process
// serving port, also after it stopped listening.
func (s service) commandPattern(binary string, port int) string {
	return fmt.Sprintf("%s %s --port %d", binary, s.command, port)
}

// supervisor wires the production registry, locator, prober and spawner.
// env returns extra environment variables for the spawned process.
func (s service) supervisor(env func(port int) []string) (*supervisor.Supervisor, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	binary := filepath.Base(exe)
	logger := slog.Default()

	cfg := s.config()
	opts := supervisor.DefaultOptions()
	opts.PollInterval = core.ParseDuration(cfg.PollInterval, opts.PollInterval)
	if cfg.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.MaxAttempts
	}

	locator := portlocator.New(
		func(port int) []string { return []string{s.commandPattern(binary, port)} },
		portlocator.WithLogger(logger),
	)

	return supervisor.New(supervisor.Config{
		Name:      s.name,
		Registry:  s.registry(),
		Locator:   locator,
		Prober:    health.NewProber(logger),
		Processes: supervisor.OSProcesses{},
		Spawner: &supervisor.CommandSpawner{
			Path:    exe,
			Args:    s.spawnArgs,
			Env:     env,
			LogPath: core.Config.LogFilePath(s.name),
		},
		Options: opts,
		Logger:  logger,
	}), nil
}

// spawnArgs keeps "<command> --port N" first so commandPattern matches.
func (s service) spawnArgs(port int) []string {
	args := []string{s.command, "--port", strconv.Itoa(port), "--config-path", core.Config.ConfigPath}
	for range core.Config.Verbose {
		args = append(args, "-v")
	}
	return args
}

func (s service) start(ctx context.Context, sup *supervisor.Supervisor, port int) error {
	slog.Info(fmt.Sprintf("Starting %s on port %d...", s.name, port))

	result, err := sup.Start(ctx, port)
	if err != nil {
		slog.Error(fmt.Sprintf("Failed to start %s: %v", s.name, err), "log", core.Config.LogFilePath(s.name))
		return err
	}
	reportStart(s, result)
	return nil
}

func reportStart(s service, result supervisor.StartResult) {
	if result.AlreadyRunning {
		slog.Info(fmt.Sprintf("%s is already running (pid %d, port %d)", s.title, result.PID, result.Port))
		return
	}
	if len(result.Killed) > 0 {
		slog.Warn(fmt.Sprintf("Killed %d stray process(es) on port %d", len(result.Killed), result.Port), "pids", result.Killed)
	}
	slog.Info(fmt.Sprintf("%s started (pid %d, port %d)", s.title, result.PID, result.Port))
}

func (s service) stop(ctx context.Context, sup *supervisor.Supervisor, port int) error {
	result, err := sup.Stop(ctx, port)
	switch {
	case errors.Is(err, supervisor.ErrStopIncomplete):
		slog.Error(fmt.Sprintf("%s did not stop completely", s.title), "port", port, "remaining", result.Remaining)
		return err
	case err != nil:
		slog.Error(fmt.Sprintf("Failed to stop %s: %v", s.name, err))
		return err
	case result.AlreadyStopped:
		slog.Info(fmt.Sprintf("%s is not running", s.title))
	default:
		slog.Info(fmt.Sprintf("%s stopped (port %d)", s.title, port), "killed", result.Killed)
	}
	return nil
}

func (s service) restart(ctx context.Context, sup *supervisor.Supervisor, port int) error {
	slog.Info(fmt.Sprintf("Restarting %s on port %d...", s.name, port))

	result, err := sup.Restart(ctx, port)
	if err != nil {
		slog.Error(fmt.Sprintf("Failed to restart %s: %v", s.name, err), "log", core.Config.LogFilePath(s.name))
		return err
	}
	reportStart(s, result)
	return nil
}
