package main

import (
	"context"
	"fmt"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/storage/postgres"
	"github.com/muskokacottagefinder/mcf/internal/storage/sqlite"
)

// openStore opens the configured storage backend.
func openStore(ctx context.Context, dbCfg storage.Config) (storage.Store, error) {
	if err := dbCfg.Validate(); err != nil {
		return nil, err
	}
	switch dbCfg.Driver {
	case storage.DriverPostgres:
		store, err := postgres.New(ctx, postgres.DefaultConfig(dbCfg.DSN))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := sqlite.New(dbCfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database %s: %w", dbCfg.Path, err)
		}
		return store, nil
	}
}

// withStore opens the store, runs fn and closes the store.
func withStore(ctx context.Context, fn func(storage.Store) error) error {
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
