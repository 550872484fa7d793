package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/webshell-bridge/pkg/db"
)

const factoryLogPrefix = "store:factory"

// Backend names accepted by OpenBackend.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend       string
	Path          string
	DatabaseURL   string
	RunMigrations bool
	MigrationPath string
}

// OpenBackend opens the backend named in opts. An empty name selects memory.
func OpenBackend(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Backend {
	case BackendMemory, "":
		slog.Info(fmt.Sprintf("%s - Using in-memory settings (not persisted)", factoryLogPrefix))
		return NewMemoryBackend(), nil
	case BackendBadger:
		slog.Info(fmt.Sprintf("%s - Using badger settings at %s", factoryLogPrefix, opts.Path))
		return OpenBadgerBackend(opts.Path)
	case BackendPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("%s - DATABASE_URL is required for the postgres backend", factoryLogPrefix)
		}
		pool, err := db.NewPool(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if opts.RunMigrations {
			files, err := db.LoadMigrationFiles(opts.MigrationPath)
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("%s - failed to load migrations: %w", factoryLogPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, files); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return NewPostgresBackend(db.NewRepository(pool)), nil
	default:
		return nil, fmt.Errorf("%s - unknown store backend: %s", factoryLogPrefix, opts.Backend)
	}
}
