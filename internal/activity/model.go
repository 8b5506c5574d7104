package activity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the outcome of an activity.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every valid status.
var Statuses = []Status{StatusCompleted, StatusInProgress, StatusFailed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s closes an in-progress record.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is one logged activity.
type Record struct {
	ID           string    `json:"id" yaml:"id"`
	Action       string    `json:"action" yaml:"action"`
	Details      string    `json:"details" yaml:"details"`
	Agent        *string   `json:"agent" yaml:"agent"`
	Project      *string   `json:"project" yaml:"project"`
	Status       Status    `json:"status" yaml:"status"`
	Duration     *string   `json:"duration" yaml:"duration"`
	InputTokens  *int64    `json:"inputTokens" yaml:"input_tokens"`
	OutputTokens *int64    `json:"outputTokens" yaml:"output_tokens"`
	TotalTokens  *int64    `json:"totalTokens" yaml:"total_tokens"`
	CreatedAt    time.Time `json:"createdAt" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" yaml:"updated_at"`
}

// Triple identifies the logical task a record belongs to. A nil agent or
// project only matches a nil agent or project.
type Triple struct {
	Action  string
	Agent   *string
	Project *string
}

// Triple returns the identity of r.
func (r *Record) Triple() Triple {
	return Triple{Action: r.Action, Agent: r.Agent, Project: r.Project}
}

// Duration accepts either a JSON string ("2m 30s") or a number (42).
type Duration string

func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = Duration(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or a number: %w", err)
	}
	*d = Duration(n.String())
	return nil
}

// Request is an incoming activity report. Nil fields were not supplied.
type Request struct {
	Action          string    `json:"action"`
	Details         *string   `json:"details,omitempty"`
	Agent           *string   `json:"agent,omitempty"`
	Project         *string   `json:"project,omitempty"`
	Status          *Status   `json:"status,omitempty"`
	Duration        *Duration `json:"duration,omitempty"`
	DurationSeconds *float64  `json:"durationSeconds,omitempty"`
	InputTokens     *int64    `json:"inputTokens,omitempty"`
	OutputTokens    *int64    `json:"outputTokens,omitempty"`
	TotalTokens     *int64    `json:"totalTokens,omitempty"`
}

// validated is a Request after trimming, normalization and defaults.
type validated struct {
	action       string
	details      *string
	agent        *string
	project      *string
	status       *Status
	duration     *string
	inputTokens  *int64
	outputTokens *int64
	totalTokens  *int64
}

func (req Request) validate() (validated, error) {
	v := validated{
		action:       strings.TrimSpace(req.Action),
		details:      req.Details,
		agent:        trimmedOrNil(req.Agent),
		status:       req.Status,
		inputTokens:  req.InputTokens,
		outputTokens: req.OutputTokens,
		totalTokens:  req.TotalTokens,
	}

	if v.status != nil && *v.status == "" {
		v.status = nil
	}
	if v.action == "" {
		return v, fmt.Errorf("%w: missing or invalid \"action\" field", ErrValidation)
	}
	if v.status != nil && !v.status.Valid() {
		return v, fmt.Errorf("%w: invalid status %q, must be one of: completed, in_progress, failed", ErrValidation, *v.status)
	}
	for name, n := range map[string]*int64{
		"inputTokens":  v.inputTokens,
		"outputTokens": v.outputTokens,
		"totalTokens":  v.totalTokens,
	} {
		if n != nil && *n < 0 {
			return v, fmt.Errorf("%w: %s must not be negative", ErrValidation, name)
		}
	}

	if req.Project != nil {
		if p := NormalizeProject(*req.Project); p != "" {
			v.project = &p
		}
	}

	switch {
	case req.Duration != nil && *req.Duration != "":
		d := string(*req.Duration)
		v.duration = &d
	case req.DurationSeconds != nil:
		if *req.DurationSeconds < 0 {
			return v, fmt.Errorf("%w: durationSeconds must not be negative", ErrValidation)
		}
		d := strconv.FormatFloat(*req.DurationSeconds, 'f', -1, 64)
		v.duration = &d
	}

	return v, nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
