package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tsangwailam/mcclaw/internal/core"
	"github.com/tsangwailam/mcclaw/internal/store"
)

func NewMigrateCommand() *cobra.Command {
	var dbURL string

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Long: `Create the database schema.

The daemon does this on startup, so this is only needed to prepare a
database ahead of time.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			url, source := core.Config.ResolveDatabaseURL(dbURL)
			provider := store.ProviderFor(url)
			slog.Info(fmt.Sprintf("Running migrations for %s...", provider), "source", source)

			st, err := store.Open(cmd.Context(), url, slog.Default())
			if err != nil {
				slog.Error(fmt.Sprintf("Migration failed: %v", err))
				os.Exit(1)
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				slog.Error(fmt.Sprintf("Migration failed: %v", err))
				st.Close()
				os.Exit(1)
			}
			slog.Info("Migrations complete", "database", core.RedactDatabaseURL(url))
		},
	}
	migrateCmd.Flags().StringVar(&dbURL, "db-url", "", "database URL (postgresql:// or file:)")

	return migrateCmd
}
