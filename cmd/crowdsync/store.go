package main

import (
	"fmt"
	"log/slog"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/cmd/crowdsync/config"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/storage"
)

// newStore opens the published window store selected by cfg.Storage. The
// returned close function is never nil.
func newStore(cfg *config.Config, logger *slog.Logger) (storage.Store, func() error, error) {
	switch cfg.Storage {
	case "memory":
		logger.Info("using in-memory storage")
		return storage.NewMemoryStore(), func() error { return nil }, nil

	case "redis":
		s, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("using redis storage", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.RedisTTL)
		return s, s.Close, nil

	case "badger":
		s, err := storage.NewBadgerStore(storage.BadgerConfig{Path: cfg.BadgerPath, Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("open badger: %w", err)
		}
		logger.Info("using badger storage", "path", cfg.BadgerPath)
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}
