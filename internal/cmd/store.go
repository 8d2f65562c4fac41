package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/crmpulse/crmpulse/internal/config"
	"github.com/crmpulse/crmpulse/internal/core"
	"github.com/crmpulse/crmpulse/internal/core/cache"
	"github.com/crmpulse/crmpulse/internal/core/store"
	"github.com/crmpulse/crmpulse/internal/dashboard"
)

const (
	cacheBackendMemory = "memory"
	cacheBackendStore  = "store"
	cacheBackendTiered = "tiered"
)

// appRuntime bundles the collaborators every dashboard command needs.
type appRuntime struct {
	cfg     *config.Config
	store   *store.Store
	cache   *cache.ResultCache
	sources []dashboard.Source
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// needsStore reports whether the configuration uses the durable store.
func needsStore(cfg *config.Config) bool {
	backend := strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	return backend != cacheBackendMemory || cfg.Retry.Persist
}

func newResultCache(cfg config.CacheConfig, db *store.Store, logger core.Logger) (*cache.ResultCache, error) {
	var kv cache.KV
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case cacheBackendMemory:
		kv = cache.NewMemoryKV()
	case cacheBackendStore:
		if db == nil {
			return nil, errors.New("cache backend store requires an open store")
		}
		kv = db
	case cacheBackendTiered, "":
		if db == nil {
			return nil, errors.New("cache backend tiered requires an open store")
		}
		kv = cache.NewTieredKV(db)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}

	rc := cache.New(kv)
	if strings.TrimSpace(cfg.Prefix) != "" {
		rc.Prefix = cfg.Prefix
	}
	rc.MaxAge = cfg.MaxAge
	rc.Logger = logger
	return rc, nil
}

// openRuntime loads configuration and wires store, cache and sources.
func openRuntime(ctx context.Context, logger core.Logger) (*appRuntime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openRuntimeWith(ctx, cfg, logger)
}

// openRuntimeWith wires store, cache and sources for an already loaded cfg.
func openRuntimeWith(ctx context.Context, cfg *config.Config, logger core.Logger) (*appRuntime, error) {
	var err error
	rt := &appRuntime{cfg: cfg}
	if needsStore(cfg) {
		rt.store, err = openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	rt.cache, err = newResultCache(cfg.Cache, rt.store, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	opts := dashboard.BuildOptions{
		Cache:      rt.cache,
		HTTPClient: &http.Client{},
		UserAgent:  config.AppName + "/" + versionInfo.Version,
		Logger:     logger,
	}
	if rt.store != nil {
		opts.StateStore = rt.store
	}
	rt.sources = dashboard.BuildSources(cfg, opts)
	return rt, nil
}

// newAggregator creates an aggregator over the runtime's sources.
func (r *appRuntime) newAggregator(logger core.Logger) *dashboard.Aggregator {
	return dashboard.New(dashboard.Options{
		Sources: r.sources,
		Cache:   r.cache,
		Logger:  logger,
	})
}

// Close releases the store.
func (r *appRuntime) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}
