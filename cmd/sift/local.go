package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackzampolin/sift/internal/cache"
	"github.com/jackzampolin/sift/internal/extraction"
	"github.com/jackzampolin/sift/internal/ledger"
	"github.com/jackzampolin/sift/internal/providers"
	"github.com/jackzampolin/sift/internal/schema"
	"github.com/jackzampolin/sift/internal/store"
)

// engine is an extractor wired to the configured ledger and cache for a
// single local command.
type engine struct {
	extractor *extraction.Extractor
	schemas   *schema.Catalog
	ledger    *ledger.Ledger
	cache     *cache.Redis
	db        *store.Store
}

func (s *session) openEngine(ctx context.Context) (*engine, error) {
	cfg := s.config.Get()
	if err := s.home.EnsureExists(); err != nil {
		return nil, err
	}

	schemas, err := schema.LoadCatalog(s.home.SchemasPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load schema catalog: %w", err)
	}

	registry := providers.NewRegistry()
	registry.SetLogger(s.logger)
	registry.Reload(cfg.ToProviderRegistryConfig())
	if len(registry.Names()) == 0 {
		return nil, errors.New("no LLM providers enabled; run 'sift config init' and set an API key")
	}

	driver, dsn := cfg.Ledger.Driver, cfg.LedgerDSN()
	if dsn == "" && (driver == "" || driver == store.DriverSQLite) {
		dsn = s.home.LedgerPath()
	}
	db, err := store.Open(ctx, driver, dsn, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	l, err := ledger.Open(ctx, db, s.logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	e := &engine{schemas: schemas, ledger: l, db: db}
	opts := []extraction.Option{
		extraction.WithLogger(s.logger),
		extraction.WithDefaultProvider(cfg.Defaults.Provider),
		extraction.WithObserver(l),
	}
	if url := cfg.RedisURL(); url != "" {
		c, err := cache.New(url, cfg.Cache.TTLDuration())
		if err == nil {
			err = c.Ping(ctx)
			if err != nil {
				_ = c.Close()
			}
		}
		if err != nil {
			s.logger.Warn("result cache unavailable, continuing without it", "error", err)
		} else {
			e.cache = c
			opts = append(opts, extraction.WithCache(c))
		}
	}

	e.extractor = extraction.New(registry, opts...)
	return e, nil
}

// Close flushes the ledger and releases the connections.
func (e *engine) Close() {
	e.ledger.Close()
	if e.cache != nil {
		_ = e.cache.Close()
	}
	_ = e.db.Close()
}
