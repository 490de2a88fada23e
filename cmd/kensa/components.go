package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kensa/internal/config"
	"github.com/hyperjump/kensa/internal/embcache"
	"github.com/hyperjump/kensa/internal/embedding"
	"github.com/hyperjump/kensa/internal/keyword"
	"github.com/hyperjump/kensa/internal/ledger"
	"github.com/hyperjump/kensa/internal/metrics"
	"github.com/hyperjump/kensa/internal/prefilter"
	"github.com/hyperjump/kensa/internal/search"
	"github.com/hyperjump/kensa/internal/storage"
)

// Components holds the wired pipeline.
type Components struct {
	Catalogs *storage.Registry
	Vectors  *embcache.Store
	Ledger   ledger.Ledger
	Engine   *search.Engine
}

// Close releases every component, reporting all failures.
func (c *Components) Close() error {
	var errs []error
	if c.Catalogs != nil {
		errs = append(errs, c.Catalogs.Close())
	}
	if c.Vectors != nil {
		errs = append(errs, c.Vectors.Close())
	}
	if c.Ledger != nil {
		errs = append(errs, c.Ledger.Close())
	}
	return errors.Join(errs...)
}

// initializeComponents wires catalogs, the vector log, the ledger and the engine.
// The vector log is opened writable, with a network provider, only when online is true;
// otherwise lookups are served from the log alone.
func initializeComponents(cfg *config.Config, logger *zap.Logger, online bool) (*Components, error) {
	c := &Components{
		Catalogs: storage.NewRegistry(cfg.Storage.CatalogDir, storage.WithRegistryLogger(logger)),
	}

	var provider embedding.Provider
	var err error
	if online {
		c.Vectors, err = embcache.OpenStore(cfg.Storage.VectorCachePath, embcache.WithStoreLogger(logger))
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to open vector cache: %w", err)
		}
		provider, err = embedding.NewProvider(cfg.Embedding, logger)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
	} else {
		c.Vectors, err = embcache.OpenStoreReadOnly(cfg.Storage.VectorCachePath, embcache.WithStoreLogger(logger))
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to open vector cache: %w", err)
		}
	}

	led, err := ledger.OpenSQLite(cfg.Storage.LedgerPath)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Ledger = led

	cache := embcache.New(c.Vectors, led, provider,
		embcache.WithLogger(logger),
		embcache.WithCacheCounter(metrics.EmbeddingCacheTotal),
		embcache.WithRetryPolicy(embcache.RetryPolicy{
			Timeout:         cfg.Embedding.Timeout(),
			MaxRetries:      cfg.Embedding.MaxRetries,
			InitialInterval: cfg.Embedding.InitialBackoff(),
			MaxInterval:     cfg.Embedding.MaxBackoff(),
		}),
	)

	lexical, err := keyword.NewScorer(keyword.WithParams(cfg.Retrieval.BM25K1, cfg.Retrieval.BM25B))
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	c.Engine = search.NewEngine(
		prefilter.New(c.Catalogs, prefilter.WithLogger(logger)),
		lexical,
		cache,
		search.WithLogger(logger),
		search.WithModel(cfg.Embedding.Model),
	)
	logger.Debug("components initialized",
		zap.String("catalog_dir", cfg.Storage.CatalogDir),
		zap.String("vector_cache", c.Vectors.Path()),
		zap.Int("cached_vectors", c.Vectors.Len()),
		zap.Bool("online", online))
	return c, nil
}
