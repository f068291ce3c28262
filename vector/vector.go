package vector

import (
	"context"
	"errors"
	"strings"
	"time"
)

type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclid    Metric = "euclid"
	MetricManhattan Metric = "manhattan"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricCosine, "":
		return MetricCosine, nil
	case MetricDot:
		return MetricDot, nil
	case MetricEuclid, "euclidean":
		return MetricEuclid, nil
	case MetricManhattan:
		return MetricManhattan, nil
	default:
		return "", ErrUnsupportedMetric
	}
}

type Config struct {
	Driver  string        `yaml:"driver"`
	Metric  string        `yaml:"metric"`
	Qdrant  QdrantConfig  `yaml:"qdrant"`
	Chromem ChromemConfig `yaml:"chromem"`
	Retry   RetryConfig   `yaml:"retry"`
}

type QdrantConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	HTTPS    bool          `yaml:"https"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
	PoolSize int           `yaml:"poolSize"`
}

type ChromemConfig struct {
	Persistent bool   `yaml:"persistent"`
	Path       string `yaml:"path"`
}

// CollectionRef names a collection together with its fixed schema.
type CollectionRef struct {
	Name       string `json:"name"`
	Domain     string `json:"domain,omitempty"`
	Dimensions int    `json:"dimensions"`
	Metric     Metric `json:"metric"`
}

func (ref CollectionRef) Validate() error {
	if strings.TrimSpace(ref.Name) == "" {
		return Fatal("validate", ErrInvalidCollection)
	}

	if ref.Dimensions <= 0 {
		return Fatal("validate", ErrInvalidDimensions)
	}

	if _, err := ParseMetric(string(ref.Metric)); err != nil {
		return Fatal("validate", err)
	}

	return nil
}

type Info struct {
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
	Metric     Metric `json:"metric"`
	Count      int    `json:"count"`
}

type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

type ScoredPoint struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Score      float64        `json:"score"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type SearchRequest struct {
	Vector []float32
	TopK   int
	Filter Filter
}

// Store is a thin client over an external vector database.
type Store interface {
	// EnsureCollection creates the collection when absent and verifies
	// its schema otherwise.
	EnsureCollection(ctx context.Context, ref CollectionRef) error

	DropCollection(ctx context.Context, name string) error

	ListCollections(ctx context.Context) ([]string, error)

	CollectionInfo(ctx context.Context, name string) (Info, error)

	// Upsert overwrites points with the same id.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search returns at most req.TopK points ordered by descending score.
	Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error)

	Close() error
}

type StoreMiddleware func(Store) Store

func Chain(store Store, mws ...StoreMiddleware) Store {
	for _, mw := range mws {
		store = mw(store)
	}

	return store
}

// CheckDimensions verifies every point matches the declared dimensionality.
func CheckDimensions(op string, dims int, points []Point) error {
	if dims <= 0 {
		return nil
	}

	for _, p := range points {
		if len(p.Vector) != dims {
			return Fatal(op, errors.Join(ErrDimensionMismatch,
				errors.New("point "+p.ID+" has wrong vector length")))
		}
	}

	return nil
}
