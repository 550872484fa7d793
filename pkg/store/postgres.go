package store

import (
	"context"

	"github.com/morezero/webshell-bridge/pkg/db"
)

// PostgresBackend persists settings in the endpoint_settings table.
type PostgresBackend struct {
	repo *db.Repository
}

// NewPostgresBackend wraps a settings repository.
func NewPostgresBackend(repo *db.Repository) *PostgresBackend {
	return &PostgresBackend{repo: repo}
}

func (p *PostgresBackend) Get(ctx context.Context, key string) (string, bool, error) {
	s, err := p.repo.GetSetting(ctx, key)
	if err != nil {
		return "", false, err
	}
	if s == nil {
		return "", false, nil
	}
	return s.Value, true, nil
}

func (p *PostgresBackend) Put(ctx context.Context, key, value string) error {
	return p.repo.PutSetting(ctx, key, value)
}

func (p *PostgresBackend) Delete(ctx context.Context, key string) error {
	return p.repo.DeleteSetting(ctx, key)
}

func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.repo.Ping(ctx)
}

func (p *PostgresBackend) Close() error {
	p.repo.Close()
	return nil
}
