// ABOUTME: Root cobra command and global flags for folio-admin
// ABOUTME: Builds the session monitor every subcommand talks to the gateway through

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/folio-gateway/internal/config"
	"github.com/2389/folio-gateway/internal/logging"
	"github.com/2389/folio-gateway/internal/monitor"
)

var (
	// Global flags
	gatewayURL  string
	configPath  string
	sessionPath string
	logLevel    string

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "folio-admin",
	Short: "Manage a folio admin session from the terminal",
	Long: `folio-admin signs in to a folio-gateway, reports the current
session, and can keep that session alive by refreshing it shortly
before it expires.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		logger, _ = logging.New(config.LoggingConfig{Level: logLevel, Format: "text"}, os.Stderr)
		return nil
	},
}

func init() {
	defaultURL := os.Getenv("FOLIO_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVar(&gatewayURL, "url", defaultURL, "Gateway base URL (env FOLIO_URL)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Gateway config file; supplies the refresh margin")
	rootCmd.PersistentFlags().StringVar(&sessionPath, "session-file", defaultSessionPath(), "Where the session token is saved")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
}

// refreshMargin returns the margin from --config when given, else fallback.
func refreshMargin(fallback time.Duration) (time.Duration, error) {
	if configPath == "" {
		return fallback, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return 0, fmt.Errorf("loading config: %w", err)
	}
	return cfg.Auth.RefreshMargin, nil
}

// newMonitor builds a monitor for --url, primed with the saved token.
func newMonitor(opts ...monitor.Option) (*monitor.Monitor, error) {
	opts = append([]monitor.Option{monitor.WithLogger(logger.With("component", "monitor"))}, opts...)
	m, err := monitor.New(gatewayURL, opts...)
	if err != nil {
		return nil, err
	}

	saved, err := loadSession(sessionPath)
	if err != nil {
		return nil, err
	}
	if saved != nil && saved.URL == gatewayURL && saved.Token != "" {
		m.SetToken(saved.Token)
	}
	return m, nil
}
