// Package supervisor starts, stops and inspects a background service that
// is identified by the TCP port it serves on.
//
// The registry is only a hint. Every decision is confirmed with a health
// probe or a port lookup, and the pid is re-resolved after startup because
// the spawned process is not necessarily the one holding the socket.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/tsangwailam/mcclaw/internal/portlocator"
	"github.com/tsangwailam/mcclaw/internal/registry"
)

// State is the observed lifecycle state of a service.
type State string

const (
	StateStopped      State = "stopped"
	StateStarting     State = "starting"
	StateHealthy      State = "healthy"
	StateUnresponsive State = "unresponsive"
	StateStopping     State = "stopping"
)

var (
	// ErrStartTimeout means the service never answered its health probe.
	ErrStartTimeout = errors.New("service did not become healthy")
	// ErrStopIncomplete means processes survived every kill attempt.
	ErrStopIncomplete = errors.New("service did not stop completely")
)

// Locator finds the processes belonging to a service.
type Locator interface {
	FindProcessesOnPort(ctx context.Context, port int) []int
	FindRelatedProcesses(ctx context.Context, port int) []int
}

// Prober checks whether a service answers on a port.
type Prober interface {
	IsHealthy(ctx context.Context, port int) bool
}

// ProcessController signals OS processes.
type ProcessController interface {
	Alive(pid int) bool
	Kill(pid int) error
}

// Spawner launches a detached service process and returns its pid.
type Spawner interface {
	Spawn(ctx context.Context, port int) (int, error)
}

// Options holds the timing of a supervisor.
type Options struct {
	PollInterval  time.Duration // between health probes while starting
	MaxAttempts   int           // health probes before ErrStartTimeout
	KillSettle    time.Duration // after killing strays before spawning
	StopWait      time.Duration // after the first kill round
	StopRetries   int
	StopRetryWait time.Duration
}

// DefaultOptions returns the timing used for the daemon.
func DefaultOptions() Options {
	return Options{
		PollInterval:  500 * time.Millisecond,
		MaxAttempts:   30,
		KillSettle:    time.Second,
		StopWait:      1500 * time.Millisecond,
		StopRetries:   5,
		StopRetryWait: 500 * time.Millisecond,
	}
}

// Config wires a Supervisor.
type Config struct {
	Name      string
	Registry  registry.Registry
	Locator   Locator
	Prober    Prober
	Processes ProcessController
	Spawner   Spawner
	Options   Options
	Logger    *slog.Logger
	// Sleep defaults to a context-aware time.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Supervisor manages one service.
type Supervisor struct {
	name     string
	registry registry.Registry
	locator  Locator
	prober   Prober
	procs    ProcessController
	spawner  Spawner
	opts     Options
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Supervisor from cfg.
func New(cfg Config) *Supervisor {
	s := &Supervisor{
		name:     cfg.Name,
		registry: cfg.Registry,
		locator:  cfg.Locator,
		prober:   cfg.Prober,
		procs:    cfg.Processes,
		spawner:  cfg.Spawner,
		opts:     cfg.Options,
		logger:   cfg.Logger,
		sleep:    cfg.Sleep,
	}
	if s.name == "" {
		s.name = "service"
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	if s.opts.MaxAttempts <= 0 {
		s.opts.MaxAttempts = 1
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Name returns the supervised service name.
func (s *Supervisor) Name() string {
	return s.name
}

// ResolvePort picks the port to act on: the explicit port if set, then the
// registry, then fallback.
func (s *Supervisor) ResolvePort(explicit, fallback int) int {
	if explicit > 0 {
		return explicit
	}
	if port := s.registry.Load().Port; port > 0 {
		return port
	}
	return fallback
}

// StartResult describes a successful start.
type StartResult struct {
	PID            int
	Port           int
	AlreadyRunning bool
	Killed         []int // stray processes removed before spawning
}

// Start makes sure the service is healthy on port. A healthy service is left
// untouched. Otherwise anything holding the port is killed, a new process is
// spawned and probed until healthy or until the attempt budget runs out.
func (s *Supervisor) Start(ctx context.Context, port int) (StartResult, error) {
	result := StartResult{Port: port}

	if s.prober.IsHealthy(ctx, port) {
		result.AlreadyRunning = true
		result.PID = s.servingPID(ctx, port, s.registry.Load().PID)
		return result, nil
	}

	result.Killed = s.killAll(s.discover(ctx, port))
	if len(result.Killed) > 0 {
		s.logger.Debug("Killed stray processes", "service", s.name, "port", port, "pids", result.Killed)
		if err := s.sleep(ctx, s.opts.KillSettle); err != nil {
			return result, err
		}
	}

	pid, err := s.spawner.Spawn(ctx, port)
	if err != nil {
		return result, fmt.Errorf("failed to spawn %s: %w", s.name, err)
	}
	if err := s.registry.Save(pid, port); err != nil {
		s.logger.Warn("Failed to write registry", "service", s.name, "error", err)
	}

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if err := s.sleep(ctx, s.opts.PollInterval); err != nil {
			return result, err
		}
		if !s.prober.IsHealthy(ctx, port) {
			continue
		}

		result.PID = s.servingPID(ctx, port, pid)
		if err := s.registry.Save(result.PID, port); err != nil {
			s.logger.Warn("Failed to write registry", "service", s.name, "error", err)
		}
		return result, nil
	}

	return result, fmt.Errorf("%w: %s on port %d after %d attempts (spawned pid %d)",
		ErrStartTimeout, s.name, port, s.opts.MaxAttempts, pid)
}

// servingPID returns the pid actually bound to port, or fallback.
func (s *Supervisor) servingPID(ctx context.Context, port, fallback int) int {
	pids := s.locator.FindProcessesOnPort(ctx, port)
	if len(pids) == 0 {
		return fallback
	}
	if slices.Contains(pids, fallback) {
		return fallback
	}
	return pids[0]
}

// StopResult describes a stop.
type StopResult struct {
	Port           int
	AlreadyStopped bool
	Killed         []int
	Remaining      []int // only set together with ErrStopIncomplete
}

// Stop kills every process associated with the service and clears the
// registry. Processes that survive all retries are returned in Remaining
// along with ErrStopIncomplete; the registry is cleared regardless.
func (s *Supervisor) Stop(ctx context.Context, port int) (StopResult, error) {
	result := StopResult{Port: port}
	defer s.clearRegistry()

	targets := s.discover(ctx, port)
	if pid := s.registry.Load().PID; pid > 0 && s.procs.Alive(pid) {
		targets = portlocator.Union(targets, []int{pid})
	}

	if len(targets) == 0 && !s.prober.IsHealthy(ctx, port) {
		result.AlreadyStopped = true
		return result, nil
	}

	s.logger.Debug("Stopping processes", "service", s.name, "port", port, "pids", targets)
	result.Killed = s.killAll(targets)
	if err := s.sleep(ctx, s.opts.StopWait); err != nil {
		return result, err
	}

	remaining := s.discover(ctx, port)
	for retry := 0; len(remaining) > 0 && retry < s.opts.StopRetries; retry++ {
		s.logger.Debug("Retrying kill", "service", s.name, "pids", remaining)
		s.killAll(remaining)
		if err := s.sleep(ctx, s.opts.StopRetryWait); err != nil {
			return result, err
		}
		remaining = s.discover(ctx, port)
	}

	if len(remaining) > 0 || s.prober.IsHealthy(ctx, port) {
		result.Remaining = remaining
		return result, fmt.Errorf("%w: %s on port %d, remaining pids %v", ErrStopIncomplete, s.name, port, remaining)
	}
	return result, nil
}

// StatusReport is a snapshot of the service.
type StatusReport struct {
	State         State
	Port          int
	PID           int   // best guess at the serving pid, 0 if unknown
	PIDs          []int // pids bound to the port
	RegistryPID   int
	RegistryStale bool // registry names a pid that is not a live serving process
}

// Status observes the service without changing it, except that a registry
// left behind by a dead process is removed.
func (s *Supervisor) Status(ctx context.Context, port int) StatusReport {
	entry := s.registry.Load()
	report := StatusReport{
		Port:        port,
		RegistryPID: entry.PID,
		PIDs:        s.locator.FindProcessesOnPort(ctx, port),
	}

	switch {
	case s.prober.IsHealthy(ctx, port):
		report.State = StateHealthy
		report.PID = entry.PID
		if len(report.PIDs) > 0 && !slices.Contains(report.PIDs, entry.PID) {
			report.PID = report.PIDs[0]
		}
		report.RegistryStale = entry.PID > 0 && (!s.procs.Alive(entry.PID) ||
			(len(report.PIDs) > 0 && !slices.Contains(report.PIDs, entry.PID)))
	case len(report.PIDs) > 0:
		report.State = StateUnresponsive
		report.PID = report.PIDs[0]
		report.RegistryStale = entry.PID > 0 && !slices.Contains(report.PIDs, entry.PID)
	default:
		report.State = StateStopped
		if entry.PID > 0 && !s.procs.Alive(entry.PID) {
			report.RegistryStale = true
			s.clearRegistry()
		}
	}
	return report
}

// Restart stops then starts the service. A failed stop is logged and the
// start still runs; the returned error is the start's.
func (s *Supervisor) Restart(ctx context.Context, port int) (StartResult, error) {
	if _, err := s.Stop(ctx, port); err != nil {
		s.logger.Warn(fmt.Sprintf("Stop before restart was incomplete: %v", err))
	}
	return s.Start(ctx, port)
}

func (s *Supervisor) discover(ctx context.Context, port int) []int {
	return portlocator.Union(
		s.locator.FindProcessesOnPort(ctx, port),
		s.locator.FindRelatedProcesses(ctx, port),
	)
}

// killAll sends SIGKILL to every pid and returns the ones that were signalled.
func (s *Supervisor) killAll(pids []int) []int {
	var killed []int
	for _, pid := range pids {
		if err := s.procs.Kill(pid); err != nil {
			s.logger.Debug("Kill failed", "service", s.name, "pid", pid, "error", err)
			continue
		}
		killed = append(killed, pid)
	}
	return killed
}

func (s *Supervisor) clearRegistry() {
	if err := s.registry.Clear(); err != nil {
		s.logger.Warn("Failed to clear registry", "service", s.name, "error", err)
	}
}
