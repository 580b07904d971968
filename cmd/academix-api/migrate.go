package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/academix-api/pkg/config"
	"github.com/noah-isme/academix-api/pkg/database"
	"github.com/noah-isme/academix-api/pkg/logger"
)

func newMigrateCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logr, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logr.Sync() //nolint:errcheck

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := database.NewPostgres(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer db.Close() //nolint:errcheck

			applied, err := database.Migrate(ctx, db, logr)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logr.Info("migrations complete", zap.Int("applied", len(applied)), zap.Strings("versions", applied))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall migration timeout")
	return cmd
}
