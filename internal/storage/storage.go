// Package storage выбирает и открывает хранилище work items по конфигурации.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Herald/internal/config"
	"github.com/shaiso/Herald/internal/repo"
	"github.com/shaiso/Herald/internal/repo/sqlite"
)

// Store — хранилище work items с записью follow-up якорей.
type Store interface {
	repo.Store
	repo.FollowUpWriter
}

// Backend — открытое хранилище.
type Backend struct {
	Store

	// Name — postgres или sqlite.
	Name string

	pool   *pgxpool.Pool
	sqlite *sqlite.Store
}

// Open открывает хранилище из cfg.
//
// migrate=true применяет миграции PostgreSQL. SQLite мигрирует
// при каждом открытии.
func Open(ctx context.Context, cfg config.Config, migrate bool) (*Backend, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: store, Name: config.StoreSQLite, sqlite: store}, nil

	case config.StorePostgres, "":
		pool, err := repo.NewPool(ctx, cfg.DBURL)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := repo.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return &Backend{Store: repo.NewWorkItemRepo(pool), Name: config.StorePostgres, pool: pool}, nil

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// Ping проверяет доступность хранилища.
func (b *Backend) Ping(ctx context.Context) error {
	if b.pool != nil {
		return b.pool.Ping(ctx)
	}
	return b.sqlite.DB().PingContext(ctx)
}

// Close освобождает соединения.
func (b *Backend) Close() error {
	if b.pool != nil {
		b.pool.Close()
		return nil
	}
	return b.sqlite.Close()
}
