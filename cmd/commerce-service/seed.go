package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"commerce-service/internal/account"
	"commerce-service/internal/catalog"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the admin account and the demo catalog",
	Long:  `seed creates the admin account (ADMIN_USERNAME / ADMIN_PASSWORD) unless it exists and fills an
empty catalog with the demo products. Running it twice changes nothing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		s, err := openStore(cfg, nil, log)
		if err != nil {
			log.Error("Failed to open store", zap.Error(err))
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		if err := s.Migrate(ctx); err != nil {
			log.Error("Migration failed", zap.Error(err))
			return err
		}

		created, err := account.NewService(s, cfg.Shop.AdminUsername, log).EnsureAdmin(ctx, cfg.Shop.AdminPassword)
		if err != nil {
			log.Error("Failed to create admin account", zap.Error(err))
			return err
		}
		added, err := catalog.NewService(s, log).Seed(ctx, catalog.DemoCatalog())
		if err != nil {
			log.Error("Failed to seed catalog", zap.Error(err))
			return err
		}

		log.Info("Seed finished",
			zap.String("admin", cfg.Shop.AdminUsername),
			zap.Bool("admin_created", created),
			zap.Int("products_added", added))
		return nil
	},
}
