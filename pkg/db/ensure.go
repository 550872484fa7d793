package db

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

const ensureLogPrefix = "db:ensure"

// safeDBName matches allowed database names (alphanumeric and underscore only).
var safeDBName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// EnsureDatabase creates the database named in databaseURL when it is missing.
// It connects to the maintenance "postgres" database on the same host and
// reports whether the database was created.
func EnsureDatabase(ctx context.Context, databaseURL string) (bool, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return false, fmt.Errorf("%s - invalid database URL: %w", ensureLogPrefix, err)
	}
	dbname, err := targetName(u)
	if err != nil {
		return false, err
	}

	config, err := pgx.ParseConfig(maintenanceURL(u))
	if err != nil {
		return false, fmt.Errorf("%s - failed to parse maintenance URL: %w", ensureLogPrefix, err)
	}
	config.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return false, fmt.Errorf("%s - failed to connect to %s: %w", ensureLogPrefix, config.Host, err)
	}
	defer conn.Close(ctx)

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, dbname).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s - failed to check database: %w", ensureLogPrefix, err)
	}
	if exists {
		slog.Info(fmt.Sprintf("%s - Database %q already exists", ensureLogPrefix, dbname))
		return false, nil
	}

	slog.Info(fmt.Sprintf("%s - Creating database %q", ensureLogPrefix, dbname))
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+quoteIdent(dbname)); err != nil {
		return false, fmt.Errorf("%s - CREATE DATABASE failed: %w", ensureLogPrefix, err)
	}
	return true, nil
}

// targetName returns the database name from the URL path.
func targetName(u *url.URL) (string, error) {
	name := strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
	switch {
	case name == "":
		return "", fmt.Errorf("%s - database name empty in URL", ensureLogPrefix)
	case name == "postgres":
		return "", fmt.Errorf("%s - refusing to target the maintenance database", ensureLogPrefix)
	case !safeDBName.MatchString(name):
		return "", fmt.Errorf("%s - database name %q contains invalid characters", ensureLogPrefix, name)
	}
	return name, nil
}

func maintenanceURL(u *url.URL) string {
	m := *u
	m.Path = "/postgres"
	return m.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
