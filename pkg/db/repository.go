package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

// Setting is a row in the endpoint_settings table.
type Setting struct {
	Key      string    `json:"key"`
	Value    string    `json:"value"`
	Modified time.Time `json:"modified"`
}

// Repository provides access to persisted endpoint settings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetSetting returns the setting stored under key, or nil when absent.
func (r *Repository) GetSetting(ctx context.Context, key string) (*Setting, error) {
	slog.Debug(fmt.Sprintf("%s - GetSetting key=%s", repoLogPrefix, key))

	var s Setting
	err := r.pool.QueryRow(ctx,
		`SELECT key, value, modified FROM endpoint_settings WHERE key = $1`, key,
	).Scan(&s.Key, &s.Value, &s.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - GetSetting failed: %w", repoLogPrefix, err)
	}
	return &s, nil
}

// PutSetting creates or replaces the setting stored under key.
func (r *Repository) PutSetting(ctx context.Context, key, value string) error {
	slog.Info(fmt.Sprintf("%s - PutSetting key=%s", repoLogPrefix, key))

	_, err := r.pool.Exec(ctx,
		`INSERT INTO endpoint_settings (key, value, modified)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, modified = EXCLUDED.modified`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%s - PutSetting failed: %w", repoLogPrefix, err)
	}
	return nil
}

// DeleteSetting removes the setting stored under key. Missing keys are not an error.
func (r *Repository) DeleteSetting(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM endpoint_settings WHERE key = $1`, key); err != nil {
		return fmt.Errorf("%s - DeleteSetting failed: %w", repoLogPrefix, err)
	}
	return nil
}

// ListSettings returns all stored settings ordered by key.
func (r *Repository) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value, modified FROM endpoint_settings ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("%s - ListSettings failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var s Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.Modified); err != nil {
			return nil, fmt.Errorf("%s - ListSettings scan failed: %w", repoLogPrefix, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the underlying pool.
func (r *Repository) Close() {
	r.pool.Close()
}
