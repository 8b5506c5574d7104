package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tsangwailam/mcclaw/internal/client"
	"github.com/tsangwailam/mcclaw/internal/core"
	"github.com/tsangwailam/mcclaw/internal/supervisor"
)

func NewDaemonCommand() *cobra.Command {
	var port int
	var dbURL string

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background activity daemon",
		Long: `Manage the background activity daemon.

The daemon stores activities and serves the HTTP API and live stream used by
the CLI and the dashboard. It keeps running until 'mclaw daemon stop'.`,
		Args: cobra.NoArgs,
	}
	daemonCmd.PersistentFlags().IntVar(&port, "port", 0, "daemon port (default: running daemon, then config)")

	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the daemon",
		Aliases: []string{"up"},
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			sup := mustDaemonSupervisor(dbURL)
			if err := daemonService.start(cmd.Context(), sup, daemonService.port(port)); err != nil {
				os.Exit(1)
			}
		},
	}
	startCmd.Flags().StringVar(&dbURL, "db-url", "", "database URL (postgresql:// or file:)")

	stopCmd := &cobra.Command{
		Use:     "stop",
		Short:   "Stop the daemon",
		Aliases: []string{"down"},
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			sup := mustDaemonSupervisor("")
			if err := daemonService.stop(cmd.Context(), sup, daemonService.port(port)); err != nil {
				os.Exit(1)
			}
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			sup := mustDaemonSupervisor("")
			p := daemonService.port(port)
			report := sup.Status(cmd.Context(), p)
			version := ""
			if report.State == supervisor.StateHealthy {
				if h, err := client.New(p).Health(cmd.Context()); err == nil {
					version = h.Version
				}
			}
			fmt.Print(renderServiceStatus(daemonService, report, version))
		},
	}

	restartCmd := newDaemonRestartCommand(&port)

	daemonCmd.AddCommand(startCmd, stopCmd, statusCmd, restartCmd)
	return daemonCmd
}

// NewRestartCommand is 'mclaw restart', a shortcut for 'mclaw daemon restart'.
func NewRestartCommand() *cobra.Command {
	var port int
	restartCmd := newDaemonRestartCommand(&port)
	restartCmd.Short = "Restart the daemon"
	restartCmd.Flags().IntVar(&port, "port", 0, "daemon port (default: running daemon, then config)")
	return restartCmd
}

func newDaemonRestartCommand(port *int) *cobra.Command {
	var dbURL string
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop and start the daemon",
		Long: `Stop and start the daemon.

An incomplete stop is reported and the start is attempted anyway.`,
		Aliases: []string{"reload"},
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			sup := mustDaemonSupervisor(dbURL)
			if err := daemonService.restart(cmd.Context(), sup, daemonService.port(*port)); err != nil {
				os.Exit(1)
			}
		},
	}
	restartCmd.Flags().StringVar(&dbURL, "db-url", "", "database URL (postgresql:// or file:)")
	return restartCmd
}

// mustDaemonSupervisor builds the daemon supervisor. The resolved database
// URL is handed to the spawned process through its environment.
func mustDaemonSupervisor(dbURL string) *supervisor.Supervisor {
	sup, err := daemonService.supervisor(func(port int) []string {
		url, source := core.Config.ResolveDatabaseURL(dbURL)
		slog.Debug("Database selected", "source", source, "url", core.RedactDatabaseURL(url))
		return []string{
			core.PortEnv + "=" + strconv.Itoa(port),
			core.DatabaseURLEnv + "=" + url,
			"DATABASE_URL=" + url,
		}
	})
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	return sup
}

// renderServiceStatus describes a StatusReport for humans.
func renderServiceStatus(s service, report supervisor.StatusReport, version string) string {
	out := fmt.Sprintf("%-10s %s %s\n", s.title+":", stateStyle(report.State).Render("●"), report.State)
	out += fmt.Sprintf("%-10s %d\n", "Port:", report.Port)
	if report.PID > 0 {
		out += fmt.Sprintf("%-10s %d\n", "PID:", report.PID)
	}
	if version != "" {
		out += fmt.Sprintf("%-10s %s\n", "Version:", core.FormatVersion(version))
	}
	switch {
	case !report.RegistryStale:
	case report.State == supervisor.StateStopped:
		out += dimStyle.Render("Note: registry entry was stale") + "\n"
	case report.RegistryPID > 0:
		hint := fmt.Sprintf("registry points at pid %d which is not serving the port", report.RegistryPID)
		out += dimStyle.Render("Note: "+hint) + "\n"
	}
	return out
}
