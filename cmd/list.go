package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tsangwailam/mcclaw/internal/activity"
)

// defaultListLimit matches what fits on a screen.
const defaultListLimit = 20

func NewListCommand() *cobra.Command {
	var (
		agent, project, status string
		limit, port            int
		format, dbURL          string
	)

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List activities, newest first",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			outFormat, err := parseFormat(format)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}

			src, err := openSource(cmd.Context(), dbURL, port)
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to open database: %v", err))
				os.Exit(1)
			}
			defer src.Close()

			if project != "" {
				project = activity.NormalizeProject(project)
			}
			res, err := src.List(cmd.Context(), activity.Filter{
				Agent:   agent,
				Project: project,
				Status:  status,
				Limit:   limit,
			})
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to list activities: %v", describeError(err)))
				src.Close()
				os.Exit(1)
			}

			if outFormat != formatText {
				if err := writeStructured(os.Stdout, outFormat, res.Activities); err != nil {
					slog.Error(fmt.Sprintf("Failed to write output: %v", err))
				}
				return
			}

			if len(res.Activities) == 0 {
				fmt.Println(warnStyle.Render("No activities found."))
				return
			}
			fmt.Println(renderActivities(res.Activities))
			fmt.Println(dimStyle.Render(fmt.Sprintf("Showing %d of %d activities", len(res.Activities), res.Stats.Total)))
		},
	}

	f := listCmd.Flags()
	f.StringVarP(&agent, "agent", "a", "", "filter by agent")
	f.StringVarP(&project, "project", "p", "", "filter by project")
	f.StringVarP(&status, "status", "s", "", "filter by status")
	f.IntVarP(&limit, "limit", "l", defaultListLimit, "maximum number of activities")
	f.StringVarP(&format, "format", "F", formatText, "output format (text|json|yaml)")
	f.IntVar(&port, "port", 0, "daemon port")
	f.StringVar(&dbURL, "db-url", "", "read directly from this database (postgresql:// or file:)")

	return listCmd
}
