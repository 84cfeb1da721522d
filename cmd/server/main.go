package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "config.yaml"

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "trados-tasks",
		Short: "Trados Cloud task monitor",
		Long: `Polls the tasks assigned to you in one or more Trados Cloud accounts and
serves per-account summaries: counts by status, overdue tasks, word counts
and upcoming deadlines.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the JSON or YAML config file")

	cmd.AddCommand(
		newServeCmd(&configPath),
		newAuthorizeCmd(&configPath),
		newConfigCmd(&configPath),
		newStatusCmd(),
	)

	return cmd
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
