package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tsangwailam/mcclaw/internal/client"
	"github.com/tsangwailam/mcclaw/internal/core"
)

func NewVersionCommand() *cobra.Command {
	var port int

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Long:  `Show version of both client and daemon (if running)`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			clientVersion := core.Version
			clientFormatted := core.FormatVersion(clientVersion)
			fmt.Fprintf(os.Stderr, "Client version: %s\n", clientFormatted)

			h, err := client.New(daemonService.port(port)).Health(cmd.Context())
			if err != nil {
				fmt.Fprintln(os.Stderr, "Daemon: not running")
				return
			}

			daemonFormatted := core.FormatVersion(h.Version)
			fmt.Fprintf(os.Stderr, "Daemon version: %s (pid %d)\n", daemonFormatted, h.PID)

			if clientVersion != h.Version {
				slog.Warn(fmt.Sprintf("Version mismatch! Client %s and daemon %s versions differ. Consider restarting the daemon.", clientFormatted, daemonFormatted))
			}
		},
	}
	versionCmd.Flags().IntVar(&port, "port", 0, "daemon port")

	return versionCmd
}
