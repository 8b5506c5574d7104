package portlocator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// runFunc executes an external command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// isNoMatch reports whether err is the exit status 1 that lsof, fuser and
// pgrep use for "nothing found".
func isNoMatch(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}

// SocketTableStrategy reads the kernel socket table through gopsutil.
type SocketTableStrategy struct{}

func NewSocketTableStrategy() *SocketTableStrategy { return &SocketTableStrategy{} }

func (s *SocketTableStrategy) Name() string { return "sockets" }

func (s *SocketTableStrategy) Find(ctx context.Context, port int) ([]int, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, fmt.Errorf("failed to read socket table: %w", err)
	}

	var pids []int
	for _, conn := range conns {
		if conn.Status != "LISTEN" || conn.Laddr.Port != uint32(port) || conn.Pid <= 0 {
			continue
		}
		pids = append(pids, int(conn.Pid))
	}
	return pids, nil
}

// commandStrategy shells out to a tool and parses its output.
type commandStrategy struct {
	name  string
	args  func(port int) []string
	parse func(out []byte, port int) []int
	run   runFunc
}

func (s *commandStrategy) Name() string { return s.name }

func (s *commandStrategy) Find(ctx context.Context, port int) ([]int, error) {
	out, err := s.run(ctx, s.name, s.args(port)...)
	if err != nil {
		if isNoMatch(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s failed: %w", s.name, err)
	}
	return s.parse(out, port), nil
}

// NewLsofStrategy runs `lsof -ti tcp:<port> -sTCP:LISTEN`.
func NewLsofStrategy() Strategy {
	return &commandStrategy{
		name: "lsof",
		args: func(port int) []string {
			return []string{"-ti", fmt.Sprintf("tcp:%d", port), "-sTCP:LISTEN"}
		},
		parse: func(out []byte, _ int) []int { return parsePidList(out) },
		run:   runCommand,
	}
}

// NewSSStrategy runs `ss -tlnp` and picks the sockets bound to the port.
func NewSSStrategy() Strategy {
	return &commandStrategy{
		name:  "ss",
		args:  func(int) []string { return []string{"-tlnp"} },
		parse: parseSS,
		run:   runCommand,
	}
}

// NewFuserStrategy runs `fuser <port>/tcp`.
func NewFuserStrategy() Strategy {
	return &commandStrategy{
		name:  "fuser",
		args:  func(port int) []string { return []string{fmt.Sprintf("%d/tcp", port)} },
		parse: func(out []byte, _ int) []int { return parseFuser(out) },
		run:   runCommand,
	}
}

// parsePidList parses whitespace separated pids, skipping anything else.
func parsePidList(out []byte) []int {
	var pids []int
	for _, field := range strings.Fields(string(out)) {
		if pid, err := strconv.Atoi(field); err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}

var ssPidPattern = regexp.MustCompile(`pid=(\d+)`)

// parseSS extracts pids from `ss -tlnp` lines whose local address ends in :port.
// Example line:
//
//	LISTEN 0 511 *:3101 *:* users:(("mclaw",pid=12345,fd=7))
func parseSS(out []byte, port int) []int {
	suffix := ":" + strconv.Itoa(port)

	var pids []int
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "LISTEN" {
			continue
		}
		if !strings.HasSuffix(fields[3], suffix) {
			continue
		}
		for _, m := range ssPidPattern.FindAllStringSubmatch(scanner.Text(), -1) {
			if pid, err := strconv.Atoi(m[1]); err == nil {
				pids = append(pids, pid)
			}
		}
	}
	return pids
}

// parseFuser parses fuser stdout. Access letters may trail a pid (e.g. "812e").
func parseFuser(out []byte) []int {
	var pids []int
	for _, field := range strings.Fields(string(out)) {
		if _, rest, ok := strings.Cut(field, ":"); ok {
			field = rest
		}
		field = strings.TrimRight(field, "abcdefghijklmnopqrstuvwxyz")
		if pid, err := strconv.Atoi(field); err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}
