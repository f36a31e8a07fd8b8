/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/catalog"
	"github.com/friendsincode/slotwatch/internal/clock"
	"github.com/friendsincode/slotwatch/internal/config"
	"github.com/friendsincode/slotwatch/internal/engine"
	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/fetch"
	"github.com/friendsincode/slotwatch/internal/resolver"
	"github.com/friendsincode/slotwatch/internal/snapshot"
	"github.com/friendsincode/slotwatch/internal/storage"
)

// Core is the polling stack shared by the HTTP server and one-shot CLI
// commands.
type Core struct {
	Engine  *engine.Engine
	Catalog *catalog.Catalog
	Bus     *events.Bus

	closers []func() error
}

// NewCore loads the catalog, opens the snapshot store and builds the engine.
func NewCore(ctx context.Context, cfg *config.Config, bus *events.Bus, logger zerolog.Logger) (*Core, error) {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	loc, err := clock.LoadLocation(cat.Timezone)
	if err != nil {
		return nil, fmt.Errorf("catalog timezone: %w", err)
	}
	clk := clock.NewCivil(loc)

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	core := &Core{Catalog: cat, Bus: bus}

	fetcher := newFetcher(cfg, logger)
	if closer, ok := fetcher.(interface{ Close() error }); ok {
		core.closers = append(core.closers, closer.Close)
	}

	policy, err := engine.PolicyFor(cat)
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	res := resolver.New(policy)

	store := snapshot.Open(ctx, objects, cfg.SnapshotKey, clk, logger)
	eng, err := engine.New(engine.Options{
		Catalog:  cat,
		Fetcher:  fetcher,
		Resolver: res,
		Store:    store,
		Clock:    clk,
		Bus:      bus,
		Logger:   logger,
	})
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	core.Engine = eng

	logger.Info().
		Strs("categories", cat.IDs()).
		Str("timezone", cat.Timezone).
		Str("fetch_mode", string(cfg.FetchMode)).
		Str("snapshot_backend", string(cfg.SnapshotBackend)).
		Str("snapshot_date", store.Date()).
		Bool("pending_open", res.Policy().PendingOpen).
		Msg("poll engine ready")

	return core, nil
}

// Close releases the fetcher.
func (c *Core) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		loaded, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		cat = loaded
	}
	if cfg.Timezone != "" {
		cat.Timezone = cfg.Timezone
	}
	return cat, nil
}

func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.SnapshotBackend != config.SnapshotS3 {
		return storage.NewFileStore(cfg.SnapshotDir), nil
	}
	store, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Prefix:          cfg.S3Prefix,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		UsePathStyle:    cfg.S3UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot s3 store: %w", err)
	}
	return store, nil
}

func newFetcher(cfg *config.Config, logger zerolog.Logger) fetch.Fetcher {
	retry := fetch.RetryPolicy{MaxAttempts: cfg.FetchAttempts, Backoff: cfg.FetchBackoff}
	limiter := fetch.NewLimiter(cfg.FetchRatePerSecond, 1)

	if cfg.FetchMode == config.FetchBrowser {
		return fetch.NewBrowserFetcher(fetch.BrowserConfig{
			Bin:        cfg.BrowserBin,
			ControlURL: cfg.BrowserControlURL,
			Timeout:    cfg.FetchTimeout,
			Retry:      retry,
			Limiter:    limiter,
		}, logger)
	}
	return fetch.NewHTTPFetcher(fetch.HTTPConfig{
		Timeout:   cfg.FetchTimeout,
		UserAgent: cfg.UserAgent,
		Retry:     retry,
		Limiter:   limiter,
	}, logger)
}
