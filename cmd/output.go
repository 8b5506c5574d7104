package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/tsangwailam/mcclaw/internal/activity"
	"github.com/tsangwailam/mcclaw/internal/supervisor"
	"gopkg.in/yaml.v3"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	headingStyle = lipgloss.NewStyle().Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func parseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", formatText:
		return formatText, nil
	case formatJSON, formatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text, json or yaml)", s)
	}
}

// writeStructured writes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	return fmt.Errorf("unsupported structured format %q", format)
}

func statusStyle(s activity.Status) lipgloss.Style {
	switch s {
	case activity.StatusCompleted:
		return okStyle
	case activity.StatusFailed:
		return errStyle
	default:
		return warnStyle
	}
}

func statusIcon(s activity.Status) string {
	switch s {
	case activity.StatusCompleted:
		return "✓"
	case activity.StatusFailed:
		return "✗"
	default:
		return "◐"
	}
}

func stateStyle(s supervisor.State) lipgloss.Style {
	switch s {
	case supervisor.StateHealthy:
		return okStyle
	case supervisor.StateUnresponsive:
		return warnStyle
	default:
		return errStyle
	}
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "—"
	}
	return *s
}

// formatNumber groups digits in thousands: 1234567 -> 1,234,567.
func formatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	sign := ""
	if n < 0 {
		sign, s = "-", s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return sign + b.String()
}

func formatTokens(n *int64) string {
	if n == nil {
		return "—"
	}
	return formatNumber(*n)
}

func formatTime(t time.Time) string {
	return t.Local().Format("02 Jan 15:04")
}

// renderActivities draws records as a table, newest first.
func renderActivities(records []activity.Record) string {
	statuses := make([]activity.Status, len(records))
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "ACTION", "STATUS", "AGENT", "PROJECT", "DURATION", "TOKENS", "TIME").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 2 && row >= 0 && row < len(statuses):
				return statusStyle(statuses[row]).Padding(0, 1)
			}
			return cellStyle
		})

	for i, rec := range records {
		statuses[i] = rec.Status
		project := "—"
		if rec.Project != nil {
			project = truncate(*rec.Project, 16)
		}
		t.Row(
			truncate(rec.ID, 8),
			truncate(rec.Action, 32),
			string(rec.Status),
			orDash(rec.Agent),
			project,
			orDash(rec.Duration),
			formatTokens(rec.TotalTokens),
			formatTime(rec.CreatedAt),
		)
	}
	return t.Render()
}

// renderRecordLine is the one-line form used by the live feed.
func renderRecordLine(rec activity.Record) string {
	var b strings.Builder
	b.WriteString(dimStyle.Render(formatTime(rec.UpdatedAt)))
	b.WriteString(" ")
	b.WriteString(statusStyle(rec.Status).Render(statusIcon(rec.Status)))
	b.WriteString(" ")
	b.WriteString(headingStyle.Render(rec.Action))

	var meta []string
	if rec.Agent != nil {
		meta = append(meta, *rec.Agent)
	}
	if rec.Project != nil {
		meta = append(meta, *rec.Project)
	}
	if rec.Duration != nil {
		meta = append(meta, *rec.Duration)
	}
	if len(meta) > 0 {
		b.WriteString(" ")
		b.WriteString(dimStyle.Render("[" + strings.Join(meta, " · ") + "]"))
	}
	return b.String()
}

// renderLogged describes the outcome of 'mclaw log'.
func renderLogged(res activity.Result) string {
	rec := res.Record
	verb := "Activity logged"
	if !res.Created {
		verb = "Activity updated"
	}

	lines := []string{
		okStyle.Render("✓") + " " + verb + ": " + headingStyle.Render(rec.Action),
		dimStyle.Render(fmt.Sprintf("  ID: %s | Status: %s", truncate(rec.ID, 8), rec.Status)),
	}

	var meta []string
	if rec.Agent != nil {
		meta = append(meta, "Agent: "+*rec.Agent)
	}
	if rec.Project != nil {
		meta = append(meta, "Project: "+*rec.Project)
	}
	if len(meta) > 0 {
		lines = append(lines, dimStyle.Render("  "+strings.Join(meta, " | ")))
	}

	var metrics []string
	if rec.Duration != nil {
		metrics = append(metrics, "Duration: "+*rec.Duration)
	}
	if rec.TotalTokens != nil {
		tokens := "Tokens: " + formatNumber(*rec.TotalTokens)
		if rec.InputTokens != nil && rec.OutputTokens != nil {
			tokens += fmt.Sprintf(" (%s in / %s out)", formatNumber(*rec.InputTokens), formatNumber(*rec.OutputTokens))
		}
		metrics = append(metrics, tokens)
	}
	if len(metrics) > 0 {
		lines = append(lines, dimStyle.Render("  "+strings.Join(metrics, " | ")))
	}
	return strings.Join(lines, "\n")
}

// renderStats is the text form of 'mclaw status'.
func renderStats(st activity.Stats) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line("%s", titleStyle.Render("Mission Claw Status"))
	line("")
	line("%s", headingStyle.Render("Activity Counts:"))
	line("  Total:      %s", okStyle.Render(formatNumber(st.Total)))
	line("  Today:      %s", okStyle.Render(formatNumber(st.Today)))
	line("  This week:  %s", okStyle.Render(formatNumber(st.Week)))

	if len(st.ByStatus) > 0 {
		line("")
		line("%s", headingStyle.Render("By Status:"))
		for _, g := range st.ByStatus {
			s := activity.Status(g.Value)
			line("  %s %s: %d", statusStyle(s).Render(statusIcon(s)), g.Value, g.Count)
		}
	}

	groups := []struct {
		title  string
		counts []activity.GroupCount
	}{
		{"Top Agents:", st.ByAgent},
		{"Top Projects:", st.ByProject},
	}
	for _, group := range groups {
		if len(group.counts) == 0 {
			continue
		}
		line("")
		line("%s", headingStyle.Render(group.title))
		for _, g := range group.counts {
			line("  • %s: %d", g.Value, g.Count)
		}
	}

	if rec := st.Recent; rec != nil {
		line("")
		line("%s", headingStyle.Render("Most Recent:"))
		line("  %s", dimStyle.Render(rec.CreatedAt.Local().Format(time.DateTime)))
		line("  %s", rec.Action)
		if rec.Agent != nil {
			line("  %s %s", dimStyle.Render("Agent:"), *rec.Agent)
		}
	}
	return b.String()
}
