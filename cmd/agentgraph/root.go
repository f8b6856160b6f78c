package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
)

const defaultEnvFile = ".env"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentgraph",
		Short: "agentgraph runs graph-based agent strategies",
		Long: `agentgraph drives a model through a tool-calling strategy graph,
with checkpoints that allow resuming and rolling back a run.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("env-file")
			return loadEnvFile(path, cmd.Flags().Changed("env-file"))
		},
	}

	// Persistent flags (available to all commands)
	cmd.PersistentFlags().String("config", "", "Settings file (.yaml, .yml or .json)")
	cmd.PersistentFlags().String("env-file", defaultEnvFile, "Dotenv file loaded before reading settings")
	cmd.PersistentFlags().String("agent-id", "", "Agent ID (overrides checkpoint.agent_id)")

	cmd.AddCommand(newRunCmd(), newCheckpointsCmd())
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEnvFile loads a dotenv file without overriding variables already set.
// A missing default file is ignored; a missing explicit file is an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

// loadSettings reads the --config file and applies flag overrides.
func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")
	settings, err := config.LoadSettings(path)
	if err != nil {
		return config.Settings{}, err
	}
	if id, _ := cmd.Flags().GetString("agent-id"); id != "" {
		settings.Checkpoint.AgentID = id
	}
	if settings.Checkpoint.AgentID == "" {
		settings.Checkpoint.AgentID = defaultAgentID
	}
	return settings, nil
}
