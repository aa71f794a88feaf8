package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/agentcore/dispatchcore/internal/backendpool"
	"github.com/agentcore/dispatchcore/internal/balancer"
	"github.com/agentcore/dispatchcore/internal/cache"
	"github.com/agentcore/dispatchcore/internal/config"
	"github.com/agentcore/dispatchcore/internal/dispatcher"
	"github.com/agentcore/dispatchcore/internal/kvstore"
	"github.com/agentcore/dispatchcore/internal/memory"
	"github.com/agentcore/dispatchcore/internal/probe"
	"github.com/agentcore/dispatchcore/internal/router"
	"github.com/agentcore/dispatchcore/internal/runtime"
	"github.com/agentcore/dispatchcore/internal/secretbox"
	"github.com/agentcore/dispatchcore/internal/vectorrecall"
	"github.com/agentcore/dispatchcore/pkg/contracts"
	"github.com/agentcore/dispatchcore/pkg/types"
)

// components bundles every piece built by build, so subcommands can
// reach into just what they need without repeating the wiring.
type components struct {
	probe   *probe.Probe
	cache   *cache.Cache
	pool    *backendpool.Pool
	lb      *balancer.Balancer
	mem     *memory.AdaptiveMemory
	vectors *vectorrecall.Index
	runtime contracts.ModelRuntime
	router  *router.ModelRouter
	dsp     *dispatcher.Dispatcher
	closers []func() error
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Warn().Err(err).Msg("error closing component")
		}
	}
}

// build assembles every dispatch core component from cfg. Callers own
// the returned components and must call Close when done.
func build(ctx context.Context, cfg *config.Config) (*components, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	c := &components{}

	kv, closer, err := buildKVStore(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("build kv store: %w", err)
	}
	if closer != nil {
		c.closers = append(c.closers, closer)
	}

	var box contracts.SecretBox
	if secret := os.Getenv("DISPATCHCORE_CACHE_SECRET"); secret != "" {
		box = secretbox.New([]byte(secret), []byte(cfg.Cache.KVBackend), secretbox.MinIterations)
	}

	cacheOpts := cache.Options{
		LocalSize:     cfg.Cache.MaxEntries,
		SweepInterval: cfg.Cache.CleanupInterval,
		Box:           box,
	}
	c.cache, err = cache.New(kv, cacheOpts)
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	c.pool = backendpool.New()
	for _, b := range cfg.Backends {
		c.pool.Add(types.Backend{
			ID:          b.ID,
			Address:     b.Address,
			Weight:      b.Weight,
			MaxInflight: b.MaxInflight,
		})
	}

	c.lb = balancer.New(c.pool, balancer.Strategy(cfg.Balancer.Strategy))

	c.mem = memory.New(memory.Options{
		MaxTokens:           cfg.Memory.MaxTokens,
		ImportanceThreshold: cfg.Memory.ImportanceThreshold,
	})
	if cfg.Memory.PersistPath != "" {
		if err := c.mem.Restore(ctx, cfg.Memory.PersistPath); err != nil {
			log.Warn().Err(err).Str("path", cfg.Memory.PersistPath).Msg("could not restore adaptive memory checkpoint, starting empty")
		}
	}

	c.vectors = vectorrecall.New(cfg.Vector.Dimension)
	if cfg.Vector.IndexPath != "" {
		if err := c.vectors.Load(cfg.Vector.IndexPath); err != nil {
			log.Warn().Err(err).Str("path", cfg.Vector.IndexPath).Msg("could not load vector index snapshot, starting empty")
		}
	}

	c.runtime = buildRuntime(cfg.Runtime)

	variants := make([]types.ModelVariant, len(cfg.Router.Variants))
	for i, v := range cfg.Router.Variants {
		variants[i] = types.ModelVariant{Name: v.Name, MinRAMBytes: v.MinRAMBytes, QualityScore: v.QualityScore}
	}
	if len(variants) == 0 {
		variants = []types.ModelVariant{{Name: "default", MinRAMBytes: 0, QualityScore: 1}}
	}
	c.router = router.New(variants)

	c.probe = probe.New(cfg.Probe.Interval)

	c.dsp = dispatcher.New(c.probe, c.router, c.cache, c.pool, c.lb, c.mem, c.vectors, c.runtime, dispatcher.Options{
		DefaultTimeout: cfg.Dispatcher.DefaultTimeout,
		MaxRetries:     cfg.Dispatcher.MaxRetries,
		BackoffBaseMs:  cfg.Dispatcher.BackoffBaseMs,
		ResultTTL:      cfg.Cache.DefaultTTL,
		RAMFloorBytes:  cfg.Dispatcher.RAMFloorBytes,
	})

	return c, nil
}

func buildKVStore(ctx context.Context, cc config.CacheConfig) (contracts.KVStore, func() error, error) {
	switch cc.KVBackend {
	case "redis":
		store, err := kvstore.NewRedisStore(ctx, cc.KVAddress, "", 0, "dispatchcore")
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "postgres":
		store, err := kvstore.NewPostgresStore(ctx, cc.KVAddress)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "", "memory":
		store := kvstore.NewMemoryStore()
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache.kv_backend %q", cc.KVBackend)
	}
}

func buildRuntime(rc config.RuntimeConfig) contracts.ModelRuntime {
	switch rc.Backend {
	case "ollama":
		return runtime.NewOllamaRuntime(rc.Endpoint, rc.Model, &http.Client{})
	default:
		return runtime.NewMockRuntime()
	}
}
