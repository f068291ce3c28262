package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/embedding"
	"github.com/flarexio/ragblade/embedding/hash"
	"github.com/flarexio/ragblade/embedding/ollama"
	"github.com/flarexio/ragblade/embedding/openai"
	"github.com/flarexio/ragblade/persistence/chromem"
	"github.com/flarexio/ragblade/persistence/qdrant"
	"github.com/flarexio/ragblade/persistence/redis"
	"github.com/flarexio/ragblade/persistence/sqlite"
	"github.com/flarexio/ragblade/vector"
)

// loadConfig reads config.yaml from path over the defaults. A missing file
// leaves the defaults in place.
func loadConfig(path string) (ragblade.Config, error) {
	cfg := ragblade.DefaultConfig()

	f, err := os.Open(filepath.Join(path, "config.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return cfg, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func newProvider(cfg embedding.Config) (embedding.Provider, error) {
	switch cfg.Provider {
	case embedding.ProviderOpenAI:
		return openai.NewProvider(cfg)

	case embedding.ProviderOllama:
		return ollama.NewProvider(cfg)

	case embedding.ProviderHash, "":
		return hash.NewProvider(cfg.Dimensions), nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

func newCacheStore(ctx context.Context, cfg ragblade.CacheConfig, path string) (embedding.Store, error) {
	switch cfg.Driver {
	case embedding.CacheSQLite:
		dbPath := cfg.SQLite.Path
		if dbPath == "" {
			dbPath = filepath.Join(path, "embeddings.db")
		}

		return sqlite.NewCacheStore(dbPath)

	case embedding.CacheRedis:
		return redis.NewCacheStore(ctx, cfg.Redis)

	case embedding.CacheMemory, "":
		return embedding.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown cache driver: %s", cfg.Driver)
	}
}

func newVectorStore(cfg vector.Config, path string, log *zap.Logger) (vector.Store, error) {
	var (
		store vector.Store
		err   error
	)

	switch cfg.Driver {
	case "qdrant":
		store, err = qdrant.NewQdrantVectorStore(cfg.Qdrant)

	case "chromem", "":
		if cfg.Chromem.Persistent && cfg.Chromem.Path == "" {
			cfg.Chromem.Path = filepath.Join(path, "vectors")
		}

		store, err = chromem.NewChromemVectorStore(cfg.Chromem)

	default:
		return nil, fmt.Errorf("unknown vector driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, err
	}

	return vector.Chain(store,
		vector.RetryMiddleware(cfg.Retry),
		vector.LoggingMiddleware(log),
	), nil
}

// newService wires the configured stores and provider into a logged
// service.
func newService(ctx context.Context, cfg ragblade.Config, path string, log *zap.Logger) (ragblade.Service, error) {
	provider, err := newProvider(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	cacheStore, err := newCacheStore(ctx, cfg.Cache, path)
	if err != nil {
		return nil, err
	}

	store, err := newVectorStore(cfg.Vector, path, log)
	if err != nil {
		cacheStore.Close()
		return nil, err
	}

	svc, err := ragblade.NewService(ctx, cfg, store, provider, embedding.NewCache(cacheStore))
	if err != nil {
		cacheStore.Close()
		store.Close()
		return nil, err
	}

	return ragblade.LoggingMiddleware(log)(svc), nil
}
