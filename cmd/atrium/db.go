package main

import (
	"context"
	"fmt"
	"strings"

	"atrium/internal/config"
	"atrium/internal/store"
	"atrium/internal/store/postgres"
	"atrium/internal/store/sqlite"
)

// openDB dispatches on the DSN scheme. Config validation already restricts
// the scheme, so the default arm only fires for hand-built configs.
func openDB(ctx context.Context, cfg *config.Config) (store.Store, error) {
	dsn := cfg.Database.DSN
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.New(ctx, dsn)
	case strings.HasPrefix(dsn, "postgres://"):
		return postgres.New(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported dsn scheme in %q", dsn)
	}
}
