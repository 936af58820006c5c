// Command acpbridge is an Agent Client Protocol agent served over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HyphaGroup/acpbridge/internal/config"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

var (
	configPath  string
	metricsAddr string
	envFile     string
)

var rootCmd = &cobra.Command{
	Use:   "acpbridge",
	Short: "Agent Client Protocol agent over stdio",
	Long: `acpbridge speaks the Agent Client Protocol (JSON-RPC 2.0, one message per
line) on stdin/stdout. Prompts are streamed back as session/update
notifications while the configured engine produces tokens.

Logs go to stderr and, if configured, a log file. Stdout carries only
protocol messages.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "acpbridge %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to acpbridge.jsonc (default: $ACPBRIDGE_CONFIG, ./acpbridge.jsonc, ~/.acpbridge/acpbridge.jsonc)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the config (missing file is ignored)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (overrides config)")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves and loads the configuration shared by every command.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}
	path, err := config.FindConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		if path == "" {
			return nil, fmt.Errorf("configuration error: %w", err)
		}
		return nil, fmt.Errorf("configuration error in %s: %w", path, err)
	}
	return cfg, nil
}
