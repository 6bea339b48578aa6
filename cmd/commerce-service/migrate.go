package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
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

		if err := s.Migrate(cmd.Context()); err != nil {
			log.Error("Migration failed", zap.Error(err))
			return err
		}
		log.Info("Schema is up to date", zap.String("store_driver", cfg.Store.Driver))
		return nil
	},
}
