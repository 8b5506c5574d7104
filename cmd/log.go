package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tsangwailam/mcclaw/internal/activity"
)

type logOptions struct {
	details, agent, project, status, duration string
	inputTokens, outputTokens, totalTokens    int64
	port                                      int
	dbURL                                     string
}

func NewLogCommand() *cobra.Command {
	var opts logOptions

	logCmd := &cobra.Command{
		Use:   "log <action>",
		Short: "Log an activity",
		Long: `Log an activity.

A completed or failed activity closes the newest in_progress activity with
the same action, agent and project instead of adding a new one. The status
defaults to completed.`,
		Example: `  mclaw log "Refactor parser" -a claude -p "mission control" -s in_progress
  mclaw log "Refactor parser" -a claude -p "mission control" --duration "4m 10s" --total-tokens 5120`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			req := opts.request(cmd, args[0])

			src, err := openSource(cmd.Context(), opts.dbURL, opts.port)
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to open database: %v", err))
				os.Exit(1)
			}
			defer src.Close()

			res, err := src.Log(cmd.Context(), req)
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to log activity: %v", describeError(err)))
				src.Close()
				os.Exit(1)
			}
			fmt.Println(renderLogged(res))
		},
	}
	opts.addFlags(logCmd)

	return logCmd
}

func (o *logOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.details, "details", "d", "", "activity details (default: the action)")
	f.StringVarP(&o.agent, "agent", "a", "", "agent name")
	f.StringVarP(&o.project, "project", "p", "", "project name")
	f.StringVarP(&o.status, "status", "s", string(activity.StatusCompleted), "status (completed|in_progress|failed)")
	f.StringVar(&o.duration, "duration", "", `duration, e.g. "1m 30s"`)
	f.Int64Var(&o.inputTokens, "input-tokens", 0, "input tokens")
	f.Int64Var(&o.outputTokens, "output-tokens", 0, "output tokens")
	f.Int64Var(&o.totalTokens, "total-tokens", 0, "total tokens")
	f.IntVar(&o.port, "port", 0, "daemon port")
	f.StringVar(&o.dbURL, "db-url", "", "write directly to this database (postgresql:// or file:)")
}

// request builds the ingest request from the parsed flags. Optional fields
// are only sent when given; the status is always sent so a plain log closes
// the matching in_progress activity.
func (o *logOptions) request(cmd *cobra.Command, action string) activity.Request {
	flags := cmd.Flags()
	status := activity.Status(o.status)
	req := activity.Request{Action: action, Status: &status}
	if flags.Changed("details") {
		req.Details = &o.details
	}
	if flags.Changed("agent") {
		req.Agent = &o.agent
	}
	if flags.Changed("project") {
		req.Project = &o.project
	}
	if flags.Changed("duration") {
		d := activity.Duration(o.duration)
		req.Duration = &d
	}
	if flags.Changed("input-tokens") {
		req.InputTokens = &o.inputTokens
	}
	if flags.Changed("output-tokens") {
		req.OutputTokens = &o.outputTokens
	}
	if flags.Changed("total-tokens") {
		req.TotalTokens = &o.totalTokens
	}
	return req
}
