package main

import (
	"context"
	"fmt"
	"log"

	"github.com/practivo/medsync/internal/config"
	"github.com/practivo/medsync/internal/engine"
	"github.com/practivo/medsync/internal/remote"
	"github.com/practivo/medsync/internal/store"
)

// openStore opens the local change queue and ensures the schema.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := st.InitSchema(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return st, nil
}

// openRemote connects to the configured remote backend.
func openRemote(ctx context.Context, cfg *config.Config) (remote.Store, error) {
	rs, err := remote.Open(ctx, remote.Options{
		Driver:         cfg.Remote.Driver,
		URL:            cfg.Remote.URL,
		AuthToken:      cfg.Remote.AuthToken,
		RequestTimeout: cfg.Remote.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}
	return rs, nil
}

// openSyncer wires store, remote, and orchestrator together. The
// returned cleanup closes both stores.
func openSyncer(ctx context.Context, cfg *config.Config, logger *log.Logger, events engine.Events) (*engine.Orchestrator, func(), error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	rs, err := openRemote(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	orch := engine.New(st, rs, &engine.Options{
		Tables:    cfg.Tables,
		BatchSize: cfg.BatchSize,
		Logger:    logger,
		Events:    events,
	})

	cleanup := func() {
		_ = rs.Close()
		_ = st.Close()
	}
	return orch, cleanup, nil
}
