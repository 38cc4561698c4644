package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JWTseng/boxing-timer-pro/internal/config"
	"github.com/JWTseng/boxing-timer-pro/internal/history"
	"github.com/JWTseng/boxing-timer-pro/internal/preset"
	"github.com/JWTseng/boxing-timer-pro/internal/storage/postgres"
	"github.com/JWTseng/boxing-timer-pro/internal/storage/sqlite"
)

// healthTimeout bounds a storage health check.
const healthTimeout = 2 * time.Second

// stores bundles the preset and history backends chosen by configuration.
type stores struct {
	presets preset.Store
	history history.Store
	health  func(ctx context.Context) error
	close   func()
}

// openStores connects the configured storage driver.
//
// Postcondition: On success the caller must call close.
func openStores(ctx context.Context, cfg config.Config, now func() time.Time, logger *zap.Logger) (stores, error) {
	start := time.Now()
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Storage.SQLitePath, now)
		if err != nil {
			return stores{}, err
		}
		logger.Info("sqlite store opened",
			zap.String("path", cfg.Storage.SQLitePath),
			zap.Duration("elapsed", time.Since(start)),
		)
		return stores{
			presets: db,
			history: db,
			health:  func(ctx context.Context) error { return db.Health(ctx, healthTimeout) },
			close:   func() { _ = db.Close() },
		}, nil

	case "postgres":
		if err := postgres.MigrateUp(cfg.Database.DSN()); err != nil {
			return stores{}, fmt.Errorf("migrating database: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return stores{}, err
		}
		logger.Info("postgres store connected",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Name),
			zap.Duration("elapsed", time.Since(start)),
		)
		return stores{
			presets: postgres.NewPresetRepository(pool.DB()),
			history: postgres.NewSessionRepository(pool.DB()),
			health:  func(ctx context.Context) error { return pool.Health(ctx, healthTimeout) },
			close:   pool.Close,
		}, nil
	}

	logger.Info("using in-memory store; presets and history are not persisted")
	return stores{
		presets: preset.NewMemStore(now),
		history: history.NewMemStore(),
		close:   func() {},
	}, nil
}

// preparePresets seeds the built-in presets and imports any preset files.
func preparePresets(ctx context.Context, s preset.Store, dir string, logger *zap.Logger) error {
	seeded, err := preset.Seed(ctx, s)
	if err != nil {
		return err
	}
	if seeded > 0 {
		logger.Info("default presets seeded", zap.Int("count", seeded))
	}
	if dir == "" {
		return nil
	}
	loaded, err := preset.LoadDir(dir)
	if err != nil {
		return err
	}
	return importPresets(ctx, s, loaded, logger)
}

func importPresets(ctx context.Context, s preset.Store, loaded []preset.Preset, logger *zap.Logger) error {
	created, updated, err := preset.Import(ctx, s, loaded)
	if err != nil {
		return err
	}
	logger.Info("presets imported",
		zap.Int("loaded", len(loaded)),
		zap.Int("created", created),
		zap.Int("updated", updated),
	)
	return nil
}
