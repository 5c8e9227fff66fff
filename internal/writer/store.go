package writer

import (
	"context"
	"fmt"

	"github.com/rickgao/audiopanel/internal/config"
	"github.com/rickgao/audiopanel/internal/database"
)

// OpenStore opens the store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StateConfig, instanceID string) (Store, error) {
	switch cfg.Driver {
	case "", "none":
		return NewMemoryStore(), nil

	case "sqlite":
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(db), nil

	case "postgres":
		pool, err := database.Connect(ctx, cfg.Postgres, instanceID)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return NewPostgresStore(pool, instanceID), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, cfg.Driver)
	}
}

// ConfigFrom maps the state config section to writer settings.
func ConfigFrom(cfg config.StateConfig) WriterConfig {
	return WriterConfig{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		BufferSize:    cfg.BufferSize,
	}
}
