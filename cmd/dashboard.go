package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tsangwailam/mcclaw/internal/core"
	"github.com/tsangwailam/mcclaw/internal/health"
	"github.com/tsangwailam/mcclaw/internal/supervisor"
)

func NewDashboardCommand() *cobra.Command {
	var port int
	var noOpen bool

	dashboardCmd := &cobra.Command{
		Use:   "dashboard [start|stop|status]",
		Short: "Manage the web dashboard",
		Long: `Manage the web dashboard.

Without an action the dashboard is started (if needed) and opened in the
browser. The dashboard needs a running daemon.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"start", "stop", "status"},
		Run: func(cmd *cobra.Command, args []string) {
			action := "start"
			if len(args) == 1 {
				action = args[0]
			}

			ctx := cmd.Context()
			apiPort := daemonService.port(0)
			p := dashboardService.port(port)
			sup := mustDashboardSupervisor(apiPort)

			switch action {
			case "start":
				if !health.NewProber(slog.Default()).IsHealthy(ctx, apiPort) {
					slog.Error(fmt.Sprintf("Daemon is not running on port %d, start it with 'mclaw daemon start'", apiPort))
					os.Exit(1)
				}
				if err := dashboardService.start(ctx, sup, p); err != nil {
					os.Exit(1)
				}

				url := fmt.Sprintf("http://localhost:%d", p)
				slog.Info(fmt.Sprintf("Dashboard ready: %s", url))
				if !noOpen {
					if err := openURL(url); err != nil {
						slog.Debug("Failed to open browser", "error", err)
						slog.Info(fmt.Sprintf("Visit: %s", url))
					}
				}
			case "stop":
				if err := dashboardService.stop(ctx, sup, p); err != nil {
					os.Exit(1)
				}
			case "status":
				fmt.Print(renderServiceStatus(dashboardService, sup.Status(ctx, p), ""))
			default:
				slog.Error(fmt.Sprintf("Unknown dashboard action %q, use start, stop or status", action))
				os.Exit(1)
			}
		},
	}
	dashboardCmd.Flags().IntVar(&port, "port", 0, "dashboard port (default: running dashboard, then config)")
	dashboardCmd.Flags().BoolVar(&noOpen, "no-open", false, "don't open the browser")

	return dashboardCmd
}

func mustDashboardSupervisor(apiPort int) *supervisor.Supervisor {
	sup, err := dashboardService.supervisor(func(port int) []string {
		return []string{
			core.PortEnv + "=" + strconv.Itoa(port),
			core.APIPortEnv + "=" + strconv.Itoa(apiPort),
		}
	})
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	return sup
}

func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
