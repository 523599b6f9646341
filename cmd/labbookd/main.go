package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"labbook-backend/config"
	"labbook-backend/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "labbookd",
	Short:        "labbookd - shared lab instrument booking service",
	Long:         `labbookd tracks who is using which lab instrument, enforces instrument capacity and keeps a usage history.`,
	SilenceUsage: true,
}

func init() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "./config/config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "path to the YAML configuration file")

	rootCmd.AddCommand(serveCmd, migrateCmd, createAdminCmd)
}

// loadConfig reads the configuration and builds the logger it describes.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	logger.Info("configuration loaded", "path", configPath)
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
