package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tsangwailam/mcclaw/internal/core"
	"github.com/tsangwailam/mcclaw/internal/server"
	"github.com/tsangwailam/mcclaw/internal/viewer"
)

// NewServeCommand runs the daemon in the foreground. 'mclaw daemon start'
// spawns it detached.
func NewServeCommand() *cobra.Command {
	var port int
	var dbURL string

	serveCmd := &cobra.Command{
		Use:    "serve",
		Short:  "Run the activity daemon in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			p := portFromEnv(port, core.PortEnv, core.Config.Daemon.Port)
			url, source := core.Config.ResolveDatabaseURL(dbURL)
			slog.Debug("Database selected", "source", source, "url", core.RedactDatabaseURL(url))

			srv, err := server.New(cmd.Context(), server.Config{
				Port:        p,
				DatabaseURL: url,
				Registry:    daemonService.registry(),
				ConfigFile:  core.Config.ConfigFilePath(),
				Logger:      slog.Default(),
			})
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to start daemon: %v", err), "port", p)
				os.Exit(1)
			}
			if err := srv.Run(cmd.Context()); err != nil {
				slog.Error(fmt.Sprintf("Daemon stopped with error: %v", err))
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().IntVar(&port, "port", 0, "listen port")
	serveCmd.Flags().StringVar(&dbURL, "db-url", "", "database URL (postgresql:// or file:)")

	return serveCmd
}

// NewViewerCommand runs the dashboard in the foreground. 'mclaw dashboard'
// spawns it detached.
func NewViewerCommand() *cobra.Command {
	var port, apiPort int

	viewerCmd := &cobra.Command{
		Use:    "viewer",
		Short:  "Run the dashboard in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			err := viewer.Run(cmd.Context(), viewer.Config{
				Port:     portFromEnv(port, core.PortEnv, core.Config.Dashboard.Port),
				APIPort:  portFromEnv(apiPort, core.APIPortEnv, daemonService.port(0)),
				Registry: dashboardService.registry(),
				Logger:   slog.Default(),
			})
			if err != nil {
				slog.Error(fmt.Sprintf("Dashboard stopped with error: %v", err))
				os.Exit(1)
			}
		},
	}
	viewerCmd.Flags().IntVar(&port, "port", 0, "listen port")
	viewerCmd.Flags().IntVar(&apiPort, "api-port", 0, "daemon API port")

	return viewerCmd
}

// portFromEnv returns explicit if set, then the port in env, then fallback.
func portFromEnv(explicit int, env string, fallback int) int {
	if explicit > 0 {
		return explicit
	}
	if v, err := strconv.Atoi(os.Getenv(env)); err == nil && v > 0 {
		return v
	}
	return fallback
}
