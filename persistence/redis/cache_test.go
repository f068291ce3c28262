package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/flarexio/ragblade/embedding"
)

func TestCacheStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	assert := assert.New(t)
	ctx := context.Background()

	store, err := NewCacheStore(ctx, embedding.RedisCacheConfig{
		Addr:   addr,
		Prefix: "ragblade-test:" + uuid.NewString(),
	})
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer store.Close()

	stale := embedding.Record{
		Key:        embedding.KeyFor("m1", "stale"),
		Vector:     []float32{1, 2},
		CreatedAt:  time.Now().Add(-time.Hour),
		AccessedAt: time.Now().Add(-time.Hour),
	}

	fresh := embedding.Record{
		Key:    embedding.KeyFor("m1", "fresh"),
		Vector: []float32{3, 4},
	}

	assert.NoError(store.Put(ctx, stale))
	assert.NoError(store.Put(ctx, fresh))

	got, ok, err := store.Get(ctx, fresh.Key)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(fresh.Vector, got.Vector)

	removed, err := store.Prune(ctx, time.Now().Add(-time.Minute))
	assert.NoError(err)
	assert.Equal(1, removed)

	_, ok, err = store.Get(ctx, stale.Key)
	assert.NoError(err)
	assert.False(ok)

	removed, err = store.Prune(ctx, time.Now().Add(time.Minute))
	assert.NoError(err)
	assert.Equal(1, removed)
}
