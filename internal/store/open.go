package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lendbridge/contactsync/internal/config"
)

// Open returns the backend selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Info().Str("driver", cfg.StoreDriver).Msg("using in-memory store")
		return NewMemory(), nil
	case config.DriverPostgres:
		s, err := OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		log.Info().Str("driver", cfg.StoreDriver).Msg("postgres store ready")
		return s, nil
	case config.DriverSQLite, "":
		s, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store at %s: %w", cfg.SQLitePath, err)
		}
		log.Info().Str("driver", config.DriverSQLite).Str("path", cfg.SQLitePath).Msg("sqlite store ready")
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
