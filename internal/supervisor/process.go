package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// OSProcesses controls real processes with signals.
type OSProcesses struct{}

// Alive reports whether pid exists. A process owned by another user still
// counts as alive.
func (OSProcesses) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Kill sends SIGKILL. The services hold no state that needs a graceful exit.
func (OSProcesses) Kill(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return unix.Kill(pid, unix.SIGKILL)
}

// CommandSpawner starts a detached copy of a command in its own session.
type CommandSpawner struct {
	Path    string
	Args    func(port int) []string
	Env     func(port int) []string // appended to the current environment
	LogPath string                  // stdout and stderr, /dev/null when empty
}

// Spawn starts the process and releases it; the caller does not wait on it.
func (c *CommandSpawner) Spawn(ctx context.Context, port int) (int, error) {
	cmd := exec.Command(c.Path, c.Args(port)...)
	cmd.Env = os.Environ()
	if c.Env != nil {
		cmd.Env = append(cmd.Env, c.Env(port)...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if c.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(c.LogPath), 0o755); err != nil {
			return 0, fmt.Errorf("failed to create log directory: %w", err)
		}
		logFile, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, fmt.Errorf("failed to open log file: %w", err)
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("failed to release process %d: %w", pid, err)
	}
	return pid, nil
}
