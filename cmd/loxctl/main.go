// Loxctl connects to a Loxone Miniserver and keeps a live model of its
// controls.
//
// It can run as a long-lived bridge that exposes control states over HTTP,
// Prometheus and MQTT, or be used for one-shot commands: discovering
// Miniservers on the LAN, listing controls and sending commands.
//
// Usage:
//
//	loxctl [command] [flags]
//
// See 'loxctl --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/loxone/internal/config"
	"github.com/muurk/loxone/internal/logging"
	"github.com/muurk/loxone/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	logLevel   string
	hostFlag   string
	userFlag   string
	secFlag    string
)

// cfg is loaded before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "loxctl",
	Short: "Loxone Miniserver client",
	Long: `A client for Loxone Miniservers.

loxctl authenticates against a Miniserver over its websocket API, loads the
structure file and follows binary state updates. 'loxctl run' keeps the
connection up and reconnects on failure, the other commands connect once.

Settings are read from a YAML file (see --config). Passwords can reference
environment variables, e.g. password: ${LOXONE_PASSWORD}.`,
	Version:           version.Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: per-user config directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "Miniserver host or host:port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "Miniserver user (overrides config)")
	rootCmd.PersistentFlags().StringVar(&secFlag, "security", "", "Authentication: auto, hash or token (overrides config)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("loxctl %s\n", version.Full())
	},
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		p, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		configPath = p
	}
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := applyOverrides(c, hostFlag, userFlag, secFlag, logLevel); err != nil {
		return err
	}
	if err := logging.InitializeWithFormat(c.Log.Level, c.Log.Format); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	cfg = c
	return nil
}
