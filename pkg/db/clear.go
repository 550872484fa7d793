package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

const clearLogPrefix = "db:clear"

// Clear deletes every persisted endpoint setting and returns the removed rows.
// Absent keys fall back to the built-in defaults; the schema is kept.
func (r *Repository) Clear(ctx context.Context) ([]Setting, error) {
	rows, err := r.pool.Query(ctx, `DELETE FROM endpoint_settings RETURNING key, value, modified`)
	if err != nil {
		return nil, fmt.Errorf("%s - delete failed: %w", clearLogPrefix, err)
	}
	removed, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Setting])
	if err != nil {
		return nil, fmt.Errorf("%s - scan failed: %w", clearLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Cleared %d endpoint settings", clearLogPrefix, len(removed)))
	return removed, nil
}
