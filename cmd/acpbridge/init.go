package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/HyphaGroup/acpbridge/internal/config"
)

var initDir string

const configTemplate = `{
  // Identity reported to the client during initialize.
  "agent": {
    "name": "CodePromptAgent",
    "version": "1.0.0"
  },

  // "echo" streams the prompt back word by word; "openai" uses a chat
  // completions endpoint (api_key falls back to $OPENAI_API_KEY).
  "engine": {
    "type": "echo",
    "model": "",
    "system_prompt": "",
    "max_retries": 2,
    "max_history": 20,
    "token_delay": "0s"
  },

  "limits": {
    "max_sessions": 64,
    "max_concurrent_prompts": 8,
    "prompts_per_second": 2,
    "prompt_burst": 5,
    "idle_timeout": "1h",
    "reap_schedule": "@every 5m"
  },

  "history": {
    "enabled": false,
    "path": "data/history.db"
  },

  // Logs never go to stdout; stdout carries the protocol.
  "logging": {
    "dir": "",
    "json": false,
    "level": "info"
  },

  "metrics": {
    "addr": ""
  }
}
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default acpbridge.jsonc",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := initDir
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("could not determine home directory: %w", err)
			}
			dir = filepath.Join(home, ".acpbridge")
		}
		path, err := writeDefaultConfig(dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", "", "Directory to write the config into (default: ~/.acpbridge)")
	rootCmd.AddCommand(initCmd)
}

// writeDefaultConfig creates dir/acpbridge.jsonc. An existing file is left alone.
func writeDefaultConfig(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
