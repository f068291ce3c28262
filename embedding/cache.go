package embedding

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type ComputeFunc func(ctx context.Context) ([]float32, error)

// Cache resolves embeddings through a Store, computing each missing key at
// most once at a time. Callers of one key share the in-flight computation;
// different keys never wait on each other.
type Cache struct {
	store Store
	group singleflight.Group
	log   *zap.Logger
	now   func() time.Time
}

func NewCache(store Store) *Cache {
	return &Cache{
		store: store,
		log:   zap.L().With(zap.String("component", "embedding_cache")),
		now:   time.Now,
	}
}

type flight struct {
	vector []float32
	hit    bool
}

// GetOrCompute returns the cached vector for key, or computes and persists
// it. The bool result reports whether the vector came from the store.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) ([]float32, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	if vec, ok := c.lookup(ctx, key); ok {
		return vec, true, nil
	}

	ch := c.group.DoChan(key.String(), func() (any, error) {
		ctx := context.WithoutCancel(ctx)

		// A concurrent flight may have persisted the key in the meantime.
		if vec, ok := c.lookup(ctx, key); ok {
			return flight{vec, true}, nil
		}

		vec, err := compute(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrEmbeddingComputeFailed, key, err)
		}

		if len(vec) == 0 {
			return nil, fmt.Errorf("%w: %s: %w", ErrEmbeddingComputeFailed, key, ErrEmptyEmbedding)
		}

		now := c.now()
		record := Record{
			Key:        key,
			Vector:     slices.Clone(vec),
			CreatedAt:  now,
			AccessedAt: now,
		}

		if err := c.store.Put(ctx, record); err != nil {
			c.log.Warn("cache put failed",
				zap.String("key", key.String()),
				zap.Error(err),
			)
		}

		return flight{vec, false}, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()

	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}

		f := res.Val.(flight)
		return slices.Clone(f.vector), f.hit, nil
	}
}

// Embed normalizes text and resolves its embedding for the provider's
// model through the cache.
func (c *Cache) Embed(ctx context.Context, provider Provider, text string) ([]float32, bool, error) {
	normalized := Normalize(text)
	if normalized == "" {
		return nil, false, fmt.Errorf("%w: empty text", ErrInvalidKey)
	}

	model := provider.Model()
	key := Key{
		ContentHash: ContentHash(normalized),
		Model:       model,
	}

	return c.GetOrCompute(ctx, key, func(ctx context.Context) ([]float32, error) {
		return provider.Embed(ctx, model, normalized)
	})
}

func (c *Cache) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	return c.store.Prune(ctx, olderThan)
}

func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) lookup(ctx context.Context, key Key) ([]float32, bool) {
	record, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache get failed",
			zap.String("key", key.String()),
			zap.Error(err),
		)
		return nil, false
	}

	if !ok || len(record.Vector) == 0 {
		return nil, false
	}

	return record.Vector, true
}
