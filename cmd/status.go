package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func NewStatusCommand() *cobra.Command {
	var port int
	var format, dbURL string

	statusCmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"stats"},
		Short:   "Show quick activity statistics",
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

			stats, err := src.Stats(cmd.Context())
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to get status: %v", describeError(err)))
				src.Close()
				os.Exit(1)
			}

			if outFormat != formatText {
				if err := writeStructured(os.Stdout, outFormat, stats); err != nil {
					slog.Error(fmt.Sprintf("Failed to write output: %v", err))
				}
				return
			}
			fmt.Println(renderStats(stats))
		},
	}
	statusCmd.Flags().IntVar(&port, "port", 0, "daemon port")
	statusCmd.Flags().StringVarP(&format, "format", "F", formatText, "output format (text|json|yaml)")
	statusCmd.Flags().StringVar(&dbURL, "db-url", "", "read directly from this database (postgresql:// or file:)")

	return statusCmd
}
