package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Counts summarises how many records match a filter.
type Counts struct {
	Total int64 `json:"total" yaml:"total"`
	Today int64 `json:"today" yaml:"today"`
	Week  int64 `json:"week" yaml:"week"`
}

// FilterValues are the distinct values a listing can be filtered by.
type FilterValues struct {
	Agents   []string `json:"agents" yaml:"agents"`
	Projects []string `json:"projects" yaml:"projects"`
	Statuses []string `json:"statuses" yaml:"statuses"`
}

// ListResult is a filtered listing with its counts.
type ListResult struct {
	Activities []Record     `json:"activities" yaml:"activities"`
	Stats      Counts       `json:"stats" yaml:"stats"`
	Filters    FilterValues `json:"filters" yaml:"filters"`
}

// Stats is the overall summary of the store.
type Stats struct {
	Counts    `yaml:",inline"`
	ByStatus  []GroupCount `json:"byStatus" yaml:"by_status"`
	ByAgent   []GroupCount `json:"byAgent" yaml:"by_agent"`
	ByProject []GroupCount `json:"byProject" yaml:"by_project"`
	Recent    *Record      `json:"recent,omitempty" yaml:"recent,omitempty"`
}

// TopN bounds the per-agent and per-project breakdowns.
const TopN = 5

// Service answers read queries over a Store.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a query service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// windows returns local midnight and the instant one week ago.
func (s *Service) windows() (today, week time.Time) {
	now := s.now()
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), now.AddDate(0, 0, -7)
}

// List returns the newest records matching f, with counts and the values
// available for filtering.
func (s *Service) List(ctx context.Context, f Filter) (ListResult, error) {
	var res ListResult
	var err error

	if res.Activities, err = s.store.List(ctx, f); err != nil {
		return res, fmt.Errorf("listing activities: %w", err)
	}
	if res.Stats, err = s.counts(ctx, f); err != nil {
		return res, err
	}
	if res.Filters, err = s.filterValues(ctx); err != nil {
		return res, err
	}
	if res.Activities == nil {
		res.Activities = []Record{}
	}
	return res, nil
}

// Stats summarises the whole store.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error

	if st.Counts, err = s.counts(ctx, Filter{}); err != nil {
		return st, err
	}
	if st.ByStatus, err = s.store.CountBy(ctx, FieldStatus, 0); err != nil {
		return st, fmt.Errorf("counting by status: %w", err)
	}
	if st.ByAgent, err = s.store.CountBy(ctx, FieldAgent, TopN); err != nil {
		return st, fmt.Errorf("counting by agent: %w", err)
	}
	if st.ByProject, err = s.store.CountBy(ctx, FieldProject, TopN); err != nil {
		return st, fmt.Errorf("counting by project: %w", err)
	}

	recent, err := s.store.List(ctx, Filter{Limit: 1})
	if err != nil {
		return st, fmt.Errorf("loading most recent activity: %w", err)
	}
	if len(recent) > 0 {
		st.Recent = &recent[0]
	}
	return st, nil
}

// counts applies f with the lower bound replaced by today and last week.
func (s *Service) counts(ctx context.Context, f Filter) (Counts, error) {
	var c Counts
	var err error

	f.Limit = 0
	if c.Total, err = s.store.Count(ctx, f); err != nil {
		return c, fmt.Errorf("counting activities: %w", err)
	}

	today, week := s.windows()
	f.Start = &today
	if c.Today, err = s.store.Count(ctx, f); err != nil {
		return c, fmt.Errorf("counting today's activities: %w", err)
	}
	f.Start = &week
	if c.Week, err = s.store.Count(ctx, f); err != nil {
		return c, fmt.Errorf("counting this week's activities: %w", err)
	}
	return c, nil
}

func (s *Service) filterValues(ctx context.Context) (FilterValues, error) {
	var fv FilterValues
	var err error

	if fv.Agents, err = s.store.Distinct(ctx, FieldAgent); err != nil {
		return fv, fmt.Errorf("listing agents: %w", err)
	}
	if fv.Projects, err = s.store.Distinct(ctx, FieldProject); err != nil {
		return fv, fmt.Errorf("listing projects: %w", err)
	}
	if fv.Statuses, err = s.store.Distinct(ctx, FieldStatus); err != nil {
		return fv, fmt.Errorf("listing statuses: %w", err)
	}
	return fv, nil
}
