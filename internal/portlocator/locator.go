// Package portlocator finds the processes bound to a TCP port.
//
// No single OS query is reliable everywhere, so a Locator asks several
// strategies and returns the union of what they found. A strategy that
// fails (tool missing, permission denied) contributes nothing.
package portlocator

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"sync"
)

// Strategy is one way of asking the OS which pids listen on a port.
type Strategy interface {
	Name() string
	Find(ctx context.Context, port int) ([]int, error)
}

// Matcher finds processes whose command line matches one of the patterns.
type Matcher interface {
	Name() string
	Match(ctx context.Context, patterns []string) ([]int, error)
}

// PatternFunc returns the command line fragments that identify a service
// process started for port.
type PatternFunc func(port int) []string

// Locator combines strategies and matchers.
type Locator struct {
	strategies []Strategy
	matchers   []Matcher
	patterns   PatternFunc
	self       int
	logger     *slog.Logger
}

// Option configures a Locator.
type Option func(*Locator)

// WithStrategies replaces the port strategies.
func WithStrategies(s ...Strategy) Option {
	return func(l *Locator) { l.strategies = s }
}

// WithMatchers replaces the command line matchers.
func WithMatchers(m ...Matcher) Option {
	return func(l *Locator) { l.matchers = m }
}

// WithLogger sets the logger used for strategy failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locator) { l.logger = logger }
}

// WithSelf sets the pid that is never reported. Defaults to os.Getpid().
func WithSelf(pid int) Option {
	return func(l *Locator) { l.self = pid }
}

// New returns a Locator using every built-in strategy and matcher.
func New(patterns PatternFunc, opts ...Option) *Locator {
	l := &Locator{
		strategies: []Strategy{
			NewSocketTableStrategy(),
			NewLsofStrategy(),
			NewSSStrategy(),
			NewFuserStrategy(),
		},
		matchers: []Matcher{
			NewProcessTableMatcher(),
			NewPgrepMatcher(),
		},
		patterns: patterns,
		self:     os.Getpid(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// FindProcessesOnPort returns the sorted, deduplicated pids listening on port.
func (l *Locator) FindProcessesOnPort(ctx context.Context, port int) []int {
	results := make([][]int, len(l.strategies))

	var wg sync.WaitGroup
	for i, s := range l.strategies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pids, err := s.Find(ctx, port)
			if err != nil {
				l.logger.Debug("Port strategy failed", "strategy", s.Name(), "port", port, "error", err)
				return
			}
			results[i] = pids
		}()
	}
	wg.Wait()

	return l.union(results...)
}

// FindRelatedProcesses returns pids whose command line identifies them as a
// service process for port, even after the socket was closed.
func (l *Locator) FindRelatedProcesses(ctx context.Context, port int) []int {
	if l.patterns == nil {
		return nil
	}
	patterns := l.patterns(port)
	if len(patterns) == 0 {
		return nil
	}

	var results [][]int
	for _, m := range l.matchers {
		pids, err := m.Match(ctx, patterns)
		if err != nil {
			l.logger.Debug("Process matcher failed", "matcher", m.Name(), "patterns", patterns, "error", err)
			continue
		}
		results = append(results, pids)
	}
	return l.union(results...)
}

func (l *Locator) union(sets ...[]int) []int {
	var out []int
	for _, set := range sets {
		for _, pid := range set {
			if pid <= 0 || pid == l.self {
				continue
			}
			out = append(out, pid)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Union merges pid sets into one sorted set without duplicates.
func Union(sets ...[]int) []int {
	var out []int
	for _, set := range sets {
		out = append(out, set...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
