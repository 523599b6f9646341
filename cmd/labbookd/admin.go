package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"labbook-backend/internal/auth"
	"labbook-backend/internal/db"
	"labbook-backend/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if _, err := db.Init(&cfg.Database, logger); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("database schema is up to date")
		return nil
	},
}

var (
	adminName     string
	adminEmail    string
	adminPassword string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account",
	Long:  `Create an administrator account, or promote and reset the password of an existing account with the same email.`,
	RunE:  runCreateAdmin,
}

func init() {
	createAdminCmd.Flags().StringVar(&adminName, "name", "Administrator", "display name")
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "login email (required)")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "initial password (required)")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("password")
}

func runCreateAdmin(cmd *cobra.Command, args []string) error {
	if adminEmail == "" || adminPassword == "" {
		return errors.New("--email and --password are required")
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	accounts := auth.NewService(store.NewGormStore(gormDB), auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), logger)
	u, err := accounts.EnsureAdmin(context.Background(), adminName, adminEmail, adminPassword)
	if err != nil {
		return fmt.Errorf("failed to create administrator: %w", err)
	}
	logger.Info("administrator ready", "user_id", u.ID, "email", u.Email)
	fmt.Fprintf(cmd.OutOrStdout(), "administrator %s (%s) ready\n", u.Email, u.ID)
	return nil
}
