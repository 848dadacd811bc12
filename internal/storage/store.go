package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"dexarb/internal/config"
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Open returns the repository selected by cfg.Driver, or nil when
// persistence is disabled. The schema is created when AutoMigrate is set.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Repository, error) {
	var repo Repository
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "":
		return nil, nil
	case "postgres", "postgresql", "pgx":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		repo = NewStore(pool)
	case "sqlite":
		store, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		repo = store
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if cfg.AutoMigrate {
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return nil, err
		}
	}
	return repo, nil
}
