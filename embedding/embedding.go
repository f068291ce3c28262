package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	ErrModelMismatch          = errors.New("model mismatch")
	ErrEmbeddingComputeFailed = errors.New("embedding compute failed")
	ErrEmptyEmbedding         = errors.New("empty embedding")
	ErrInvalidKey             = errors.New("invalid cache key")
)

// Provider turns text into a vector with one fixed model.
type Provider interface {
	Model() string
	Dimensions() int
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

type Key struct {
	ContentHash string `json:"content_hash"`
	Model       string `json:"model"`
}

func (k Key) Validate() error {
	if k.ContentHash == "" || k.Model == "" {
		return ErrInvalidKey
	}

	return nil
}

func (k Key) String() string {
	return k.Model + ":" + k.ContentHash
}

type Record struct {
	Key        Key       `json:"key"`
	Vector     []float32 `json:"vector"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// Store persists computed embeddings. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key Key) (Record, bool, error)
	Put(ctx context.Context, record Record) error

	// Prune removes records not accessed since olderThan and reports how
	// many were removed.
	Prune(ctx context.Context, olderThan time.Time) (int, error)

	Close() error
}

// Normalize collapses runs of whitespace into single spaces and trims the
// ends, so texts differing only in layout share one cache entry.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func KeyFor(model string, text string) Key {
	return Key{
		ContentHash: ContentHash(Normalize(text)),
		Model:       model,
	}
}
