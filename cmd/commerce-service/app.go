package main

import (
	"fmt"

	"go.uber.org/zap"

	"commerce-service/internal/store"
	"commerce-service/internal/store/badgerstore"
	"commerce-service/internal/store/gormstore"
	"commerce-service/pkg/config"
	"commerce-service/pkg/database"
	"commerce-service/pkg/logger"
)

// bootstrap loads configuration and initializes the global logger
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := logger.InitLogger(cfg); err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	return cfg, logger.GetLogger(), nil
}

// openStore opens the configured persistence gateway; obs may be nil
func openStore(cfg *config.Config, obs store.Observer, log *zap.Logger) (store.Store, error) {
	var s store.Store
	switch cfg.Store.Driver {
	case config.StoreDriverBadger:
		bs, err := badgerstore.Open(badgerstore.Options{Dir: cfg.Store.BadgerDir})
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		log.Info("Badger store opened", zap.String("dir", cfg.Store.BadgerDir))
		s = bs
	case config.StoreDriverPostgres:
		db, err := database.InitDB(&cfg.DB, log)
		if err != nil {
			return nil, err
		}
		s = gormstore.New(db, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return store.Instrument(s, obs), nil
}
