package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOSProcessesAliveAndKill(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start sleep: %v", err)
	}
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	var procs OSProcesses
	pid := cmd.Process.Pid

	if !procs.Alive(pid) {
		t.Fatal("expected child to be alive")
	}
	if err := procs.Kill(pid); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit after SIGKILL")
	}
	if procs.Alive(pid) {
		t.Error("expected reaped child to be gone")
	}
}

func TestOSProcessesInvalidPID(t *testing.T) {
	var procs OSProcesses
	if procs.Alive(0) || procs.Alive(-1) {
		t.Error("non-positive pids are never alive")
	}
	if err := procs.Kill(0); err == nil {
		t.Error("expected error when killing pid 0")
	}
}

func TestCommandSpawnerDetaches(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "svc.log")
	script := filepath.Join(dir, "svc.sh")
	body := "#!/bin/sh\necho \"port=$1 env=$SPAWN_TEST_PORT\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	s := &CommandSpawner{
		Path:    script,
		Args:    func(port int) []string { return []string{"4100"} },
		Env:     func(port int) []string { return []string{"SPAWN_TEST_PORT=4100"} },
		LogPath: logPath,
	}

	pid, err := s.Spawn(context.Background(), 4100)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("expected a pid, got %d", pid)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, _ := os.ReadFile(logPath)
		if strings.Contains(string(data), "port=4100 env=4100") {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	data, _ := os.ReadFile(logPath)
	t.Errorf("expected spawned output in log, got %q", string(data))
}
