package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bcgov/nr-ai-form/config"
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Routes form questions to skill agents and combines their answers",
	Long: `orchestrator fans a query out to the conversation and form-support agents,
applies the aggregation rules and threads the conversation across calls.
It can also run the connection gateway that fronts the orchestrator's
WebSocket channel.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file (defaults to environment variables)")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")
}

// loadConfig reads --config when given and falls back to the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}
