// Package db provides postgres connection pooling, migrations and the endpoint
// settings repository.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// applicationName tags bridge connections in pg_stat_activity.
const applicationName = "webshell-bridge"

// PoolConfig parses databaseURL into a pool config sized for settings access:
// one session writes a handful of keys.
func PoolConfig(databaseURL string) (*pgxpool.Config, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("%s - database URL is empty", logPrefix)
	}
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}
	config.MaxConns = 4
	config.MinConns = 0
	config.MaxConnIdleTime = 5 * time.Minute
	if config.ConnConfig.RuntimeParams == nil {
		config.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, set := config.ConnConfig.RuntimeParams["application_name"]; !set {
		config.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return config, nil
}

// NewPool opens a pool for databaseURL and pings it.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := PoolConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	slog.Info(fmt.Sprintf("%s - Connecting to settings database %s/%s", logPrefix, config.ConnConfig.Host, config.ConnConfig.Database))

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}
	return pool, nil
}
