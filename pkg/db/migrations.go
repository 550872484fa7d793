package db

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsLogPrefix = "db:migrations"

// Migration is one numbered SQL file, e.g. "0001_endpoint_settings.sql".
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// createVersionTable records which migrations ran, so a shell restarted with
// RUN_MIGRATIONS=true does not re-apply them.
const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// LoadMigrationFiles reads the .sql files in dir ordered by file name.
// The version is the file name up to the first underscore.
func LoadMigrationFiles(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var out []Migration
	seen := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		name := e.Name()
		version, _, _ := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("%s - %s and %s share version %s", migrationsLogPrefix, prev, name, version)
		}
		seen[version] = name

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, name, err)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// RunMigrations applies every migration not yet recorded, each in its own transaction.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	if _, err := pool.Exec(ctx, createVersionTable); err != nil {
		return fmt.Errorf("%s - failed to create schema_migrations: %w", migrationsLogPrefix, err)
	}
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return err
	}

	var ran int
	for _, m := range pending(migrations, applied) {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%s - migration %s failed: %w", migrationsLogPrefix, m.Name, err)
		}
		slog.Info(fmt.Sprintf("%s - Applied %s", migrationsLogPrefix, m.Name))
		ran++
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete (%d applied, %d already present)", migrationsLogPrefix, ran, len(migrations)-ran))
	return nil
}

// MigrationStatus writes one line per migration file in migrationPath.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, w io.Writer, migrationPath string) error {
	migrations, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createVersionTable); err != nil {
		return fmt.Errorf("%s - failed to create schema_migrations: %w", migrationsLogPrefix, err)
	}
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return err
	}
	writeStatus(w, migrations, applied)
	return nil
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read schema_migrations: %w", migrationsLogPrefix, err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s - failed to scan schema_migrations: %w", migrationsLogPrefix, err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func pending(migrations []Migration, applied map[string]bool) []Migration {
	var out []Migration
	for _, m := range migrations {
		if !applied[m.Version] {
			out = append(out, m)
		}
	}
	return out
}

func writeStatus(w io.Writer, migrations []Migration, applied map[string]bool) {
	if len(migrations) == 0 {
		fmt.Fprintln(w, "No migration files found.")
		return
	}
	for _, m := range migrations {
		state := "pending"
		if applied[m.Version] {
			state = "applied"
		}
		fmt.Fprintf(w, "%-8s %s\n", state, m.Name)
	}
	if n := len(pending(migrations, applied)); n > 0 {
		fmt.Fprintf(w, "%d pending; run 'webshell migrate up'.\n", n)
	}
}
