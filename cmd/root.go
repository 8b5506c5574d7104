package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tsangwailam/mcclaw/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "mclaw",
		Short: "Mission Claw - activity logging for agents",
		Long: `Mission Claw - activity logging for agents.

Activities are sent to a small background daemon that stores them and
streams every change to the dashboard and to 'mclaw watch'.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize config and bind global flags to the config
			messages, err := core.InitializeConfig(cmd)
			for _, message := range messages {
				fmt.Println(message)
			}
			if err != nil {
				return err
			}
			core.SetupLogging(os.Stderr, core.Config.Verbose)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewLogCommand(),
		NewListCommand(),
		NewStatusCommand(),
		NewWatchCommand(),
		NewDaemonCommand(),
		NewRestartCommand(),
		NewDashboardCommand(),
		NewConfigCommand(),
		NewMigrateCommand(),
		NewVersionCommand(),
		NewServeCommand(),
		NewViewerCommand(),
	)

	return rootCmd
}
