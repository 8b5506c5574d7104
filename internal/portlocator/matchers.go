package portlocator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// matchesCommandLine reports whether pattern occurs in cmdline as whole
// arguments, so "--port 310" does not match "--port 3101".
func matchesCommandLine(cmdline, pattern string) bool {
	if pattern == "" {
		return false
	}
	return strings.Contains(cmdline+" ", pattern+" ")
}

// ProcessTableMatcher walks the process table with gopsutil.
type ProcessTableMatcher struct{}

func NewProcessTableMatcher() *ProcessTableMatcher { return &ProcessTableMatcher{} }

func (m *ProcessTableMatcher) Name() string { return "proctable" }

func (m *ProcessTableMatcher) Match(ctx context.Context, patterns []string) ([]int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	var pids []int
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			// Exited or not ours to read
			continue
		}
		for _, pattern := range patterns {
			if matchesCommandLine(cmdline, pattern) {
				pids = append(pids, int(p.Pid))
				break
			}
		}
	}
	return pids, nil
}

// PgrepMatcher runs `pgrep -f` once per pattern.
type PgrepMatcher struct {
	run runFunc
}

func NewPgrepMatcher() *PgrepMatcher { return &PgrepMatcher{run: runCommand} }

func (m *PgrepMatcher) Name() string { return "pgrep" }

func (m *PgrepMatcher) Match(ctx context.Context, patterns []string) ([]int, error) {
	var pids []int
	for _, pattern := range patterns {
		out, err := m.run(ctx, "pgrep", "-f", regexp.QuoteMeta(pattern)+"( |$)")
		if err != nil {
			if isNoMatch(err) {
				continue
			}
			return nil, fmt.Errorf("pgrep failed: %w", err)
		}
		pids = append(pids, parsePidList(out)...)
	}
	return pids, nil
}
