package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingProvider struct {
	model string
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (p *countingProvider) Model() string {
	return p.model
}

func (p *countingProvider) Dimensions() int {
	return 3
}

func (p *countingProvider) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	if model != p.model {
		return nil, ErrModelMismatch
	}

	p.calls.Add(1)

	if p.gate != nil {
		<-p.gate
	}

	if p.err != nil {
		return nil, p.err
	}

	return []float32{float32(len(text)), 1, 0}, nil
}

func TestCacheComputesOncePerKey(t *testing.T) {
	assert := assert.New(t)

	provider := &countingProvider{
		model: "m1",
		gate:  make(chan struct{}),
	}

	cache := NewCache(NewMemoryStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([][]float32, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = cache.Embed(ctx, provider, "same   text")
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(provider.gate)
	wg.Wait()

	for i := range results {
		assert.NoError(errs[i])
		assert.Equal([]float32{9, 1, 0}, results[i])
	}

	assert.Equal(int32(1), provider.calls.Load())

	vec, hit, err := cache.Embed(ctx, provider, "same text")
	assert.NoError(err)
	assert.True(hit)
	assert.Equal([]float32{9, 1, 0}, vec)
	assert.Equal(int32(1), provider.calls.Load())
}

func TestCacheFailureIsNotCached(t *testing.T) {
	assert := assert.New(t)

	cause := errors.New("provider unavailable")
	provider := &countingProvider{model: "m1", err: cause}

	cache := NewCache(NewMemoryStore())
	ctx := context.Background()

	_, _, err := cache.Embed(ctx, provider, "hello")
	assert.ErrorIs(err, ErrEmbeddingComputeFailed)
	assert.ErrorIs(err, cause)

	provider.err = nil

	vec, hit, err := cache.Embed(ctx, provider, "hello")
	assert.NoError(err)
	assert.False(hit)
	assert.Equal([]float32{5, 1, 0}, vec)
	assert.Equal(int32(2), provider.calls.Load())
}

func TestCacheKeysIncludeModel(t *testing.T) {
	assert := assert.New(t)

	cache := NewCache(NewMemoryStore())
	ctx := context.Background()

	m1 := &countingProvider{model: "m1"}
	m2 := &countingProvider{model: "m2"}

	_, hit, err := cache.Embed(ctx, m1, "shared text")
	assert.NoError(err)
	assert.False(hit)

	_, hit, err = cache.Embed(ctx, m2, "shared text")
	assert.NoError(err)
	assert.False(hit)

	assert.Equal(int32(1), m1.calls.Load())
	assert.Equal(int32(1), m2.calls.Load())
}

func TestCacheRejectsEmptyEmbedding(t *testing.T) {
	assert := assert.New(t)

	cache := NewCache(NewMemoryStore())
	key := Key{ContentHash: ContentHash("x"), Model: "m1"}

	_, _, err := cache.GetOrCompute(context.Background(), key, func(ctx context.Context) ([]float32, error) {
		return nil, nil
	})
	assert.ErrorIs(err, ErrEmbeddingComputeFailed)
	assert.ErrorIs(err, ErrEmptyEmbedding)

	_, _, err = cache.GetOrCompute(context.Background(), Key{Model: "m1"}, nil)
	assert.ErrorIs(err, ErrInvalidKey)
}

func TestCacheReturnsCopies(t *testing.T) {
	assert := assert.New(t)

	cache := NewCache(NewMemoryStore())
	provider := &countingProvider{model: "m1"}
	ctx := context.Background()

	vec, _, err := cache.Embed(ctx, provider, "abc")
	assert.NoError(err)
	vec[0] = 42

	again, hit, err := cache.Embed(ctx, provider, "abc")
	assert.NoError(err)
	assert.True(hit)
	assert.Equal(float32(3), again[0])
}

func TestMemoryStorePrune(t *testing.T) {
	assert := assert.New(t)

	store := NewMemoryStore()
	ctx := context.Background()

	old := Record{
		Key:        Key{ContentHash: "a", Model: "m1"},
		Vector:     []float32{1},
		AccessedAt: time.Now().Add(-time.Hour),
	}

	fresh := Record{
		Key:        Key{ContentHash: "b", Model: "m1"},
		Vector:     []float32{2},
		AccessedAt: time.Now(),
	}

	assert.NoError(store.Put(ctx, old))
	assert.NoError(store.Put(ctx, fresh))

	removed, err := store.Prune(ctx, time.Now().Add(-time.Minute))
	assert.NoError(err)
	assert.Equal(1, removed)

	_, ok, err := store.Get(ctx, old.Key)
	assert.NoError(err)
	assert.False(ok)

	_, ok, err = store.Get(ctx, fresh.Key)
	assert.NoError(err)
	assert.True(ok)
}

func TestVectorCodec(t *testing.T) {
	assert := assert.New(t)

	vec := []float32{0.25, -1.5, 3}
	decoded, err := DecodeVector(EncodeVector(vec))
	assert.NoError(err)
	assert.Equal(vec, decoded)

	_, err = DecodeVector([]byte{1, 2, 3})
	assert.ErrorIs(err, ErrCorruptVector)
}

func TestNormalize(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("a b c", Normalize("  a\n\tb   c "))
	assert.Equal(KeyFor("m1", "a  b"), KeyFor("m1", "a b"))
	assert.NotEqual(KeyFor("m1", "a b"), KeyFor("m2", "a b"))
}
