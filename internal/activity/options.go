package activity

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultListLimit applies when a listing does not ask for a limit.
const DefaultListLimit = 100

// Filter narrows listings and counts. Empty strings match everything.
type Filter struct {
	Agent   string
	Project string
	Status  string
	Start   *time.Time
	End     *time.Time
	Limit   int
}

// GroupField is a column records can be grouped by.
type GroupField string

const (
	FieldStatus  GroupField = "status"
	FieldAgent   GroupField = "agent"
	FieldProject GroupField = "project"
)

// GroupCount is the number of records sharing one field value.
type GroupCount struct {
	Value string `json:"value" yaml:"value"`
	Count int64  `json:"count" yaml:"count"`
}

// ParseFilter reads a Filter from URL query parameters. The value "all"
// means no filter. An end date without a time covers the whole day.
func ParseFilter(q url.Values) (Filter, error) {
	f := Filter{
		Agent:   filterValue(q.Get("agent")),
		Project: filterValue(q.Get("project")),
		Status:  filterValue(q.Get("status")),
		Limit:   DefaultListLimit,
	}

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("%w: limit must be a positive integer", ErrValidation)
		}
		f.Limit = n
	}
	if s := q.Get("start"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return f, fmt.Errorf("%w: invalid start: %v", ErrValidation, err)
		}
		f.Start = &t
	}
	if s := q.Get("end"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return f, fmt.Errorf("%w: invalid end: %v", ErrValidation, err)
		}
		if !strings.Contains(s, "T") {
			t = t.Add(24*time.Hour - time.Millisecond)
		}
		f.End = &t
	}
	return f, nil
}

// Query encodes f as URL query parameters, the inverse of ParseFilter.
func (f Filter) Query() url.Values {
	q := url.Values{}
	if f.Agent != "" {
		q.Set("agent", f.Agent)
	}
	if f.Project != "" {
		q.Set("project", f.Project)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Start != nil {
		q.Set("start", f.Start.Format(time.RFC3339Nano))
	}
	if f.End != nil {
		q.Set("end", f.End.Format(time.RFC3339Nano))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

func filterValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "all" {
		return ""
	}
	return s
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, s, time.Local)
}
