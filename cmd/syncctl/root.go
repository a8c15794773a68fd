package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"propmarket/server/config"
	"propmarket/server/internal/app"
)

var (
	cfg    *config.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Operator commands for the listing sync engine",
	Long:  "Runs proximity and intelligence batches and single listing or POI syncs against the configured database.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		l, err := app.NewLogger(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		l.SetOutput(os.Stderr)
		logger = l

		return nil
	},
	SilenceUsage: true,
}

func openApp() (*app.App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}
	return app.New(cfg, logger)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
