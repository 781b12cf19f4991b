package main

import (
	"context"
	"errors"

	"github.com/merigil/mythoria-sub000/internal/config"
	"github.com/merigil/mythoria-sub000/internal/database"
	"github.com/merigil/mythoria-sub000/internal/leaderboard"
	"github.com/merigil/mythoria-sub000/internal/ledger"
	"github.com/merigil/mythoria-sub000/internal/logging"
	"github.com/merigil/mythoria-sub000/internal/players"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stores bundles the durable backends shared by the server and the maintenance commands.
type stores struct {
	db          *gorm.DB
	redis       *redis.Client
	ledger      *ledger.Store
	players     *players.Service
	leaderboard *leaderboard.Store
}

func newLogger(cfg config.AppConfig) (*zap.Logger, error) {
	return logging.NewLogger(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
}

func openSQLStores(cfg config.AppConfig, logger *zap.Logger) (*stores, error) {
	db, err := database.Open(database.Config{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseDSN}, logger)
	if err != nil {
		return nil, err
	}
	ledgerStore, err := ledger.NewStore(ledger.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		closeDatabase(db)
		return nil, err
	}
	playerService, err := players.NewService(players.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		closeDatabase(db)
		return nil, err
	}
	return &stores{db: db, ledger: ledgerStore, players: playerService}, nil
}

func openAllStores(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*stores, error) {
	opened, err := openSQLStores(cfg, logger)
	if err != nil {
		return nil, err
	}
	client, err := leaderboard.OpenRedis(ctx, leaderboard.RedisConfig{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		opened.Close()
		return nil, err
	}
	opened.redis = client
	board, err := leaderboard.NewStore(leaderboard.StoreConfig{
		Client:    client,
		KeyPrefix: cfg.LeaderboardKeyPrefix,
		Logger:    logger,
	})
	if err != nil {
		opened.Close()
		return nil, err
	}
	opened.leaderboard = board
	return opened, nil
}

// Close releases Redis first, then the database.
func (s *stores) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		} else {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
