package vector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilterUnmarshalDefaultsToMust(t *testing.T) {
	assert := assert.New(t)

	input := `{
		"metadata.level": {"values": ["SENIOR", "MIDDLE"]},
		"metadata.domains": {"must": false, "values": ["AI"]},
		"owner": {"values": "personal"}
	}`

	var f Filter
	if err := json.Unmarshal([]byte(input), &f); err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.True(f["metadata.level"].Must)
	assert.Len(f["metadata.level"].Values, 2)
	assert.False(f["metadata.domains"].Must)
	assert.Equal([]any{"personal"}, f["owner"].Values)
	assert.NoError(f.Validate())
}

func TestFilterMatch(t *testing.T) {
	assert := assert.New(t)

	payload := map[string]any{
		"document_id": "cv-1",
		"chunk_index": float64(2),
		"metadata": map[string]any{
			"level":     "SENIOR",
			"languages": []any{"english", "german"},
		},
	}

	assert.True(Filter{"document_id": Must("cv-1")}.Match(payload))
	assert.False(Filter{"document_id": Must("cv-2")}.Match(payload))
	assert.True(Filter{"chunk_index": Must(2)}.Match(payload))
	assert.True(Filter{"metadata.languages": Must("english", "german")}.Match(payload))
	assert.False(Filter{"metadata.languages": Must("english", "french")}.Match(payload))
	assert.True(Filter{"metadata.languages": Should("french", "german")}.Match(payload))
	assert.False(Filter{"metadata.languages": Should("french")}.Match(payload))
	assert.False(Filter{"metadata.missing": Must("x")}.Match(payload))
	assert.True(Filter{}.Match(payload))
}

func TestFilterQdrant(t *testing.T) {
	assert := assert.New(t)

	f := Filter{
		"metadata.level":   Must("SENIOR"),
		"metadata.domains": Should("AI", "ML"),
	}

	out := f.Qdrant()

	must, ok := out["must"].([]any)
	assert.True(ok)
	assert.Len(must, 1)
	assert.Equal(map[string]any{
		"key":   "metadata.level",
		"match": map[string]any{"value": "SENIOR"},
	}, must[0])

	should, ok := out["should"].([]any)
	assert.True(ok)
	assert.Len(should, 1)

	assert.Nil(Filter{}.Qdrant())
}

func TestFilterValidate(t *testing.T) {
	assert := assert.New(t)

	err := Filter{"level": {Must: true}}.Validate()
	assert.ErrorIs(err, ErrMalformedQuery)
	assert.ErrorIs(err, ErrFatal)

	err = Filter{"level": Must(map[string]any{"a": 1})}.Validate()
	assert.ErrorIs(err, ErrUnsupportedFilter)
}

func TestClassify(t *testing.T) {
	assert := assert.New(t)

	assert.True(IsTransient(Classify("search", context.DeadlineExceeded)))
	assert.True(IsTransient(Classify("search", io.ErrUnexpectedEOF)))
	assert.False(IsTransient(Classify("search", errors.New("boom"))))
	assert.True(IsTransient(ClassifyStatus("search", 503, errors.New("unavailable"))))
	assert.False(IsTransient(ClassifyStatus("search", 400, errors.New("bad request"))))
	assert.ErrorIs(ClassifyStatus("search", 404, ErrCollectionNotFound), ErrCollectionNotFound)

	fatal := Fatal("ensure", ErrSchemaMismatch)
	assert.Same(fatal, Classify("ensure", fatal))
}

func TestParseMetric(t *testing.T) {
	assert := assert.New(t)

	m, err := ParseMetric("Cosine")
	assert.NoError(err)
	assert.Equal(MetricCosine, m)

	m, err = ParseMetric("euclidean")
	assert.NoError(err)
	assert.Equal(MetricEuclid, m)

	_, err = ParseMetric("hamming")
	assert.ErrorIs(err, ErrUnsupportedMetric)
}

type flakyStore struct {
	Store
	failures int
	err      error
	calls    int
}

func (s *flakyStore) Upsert(ctx context.Context, collection string, points []Point) error {
	s.calls++
	if s.calls <= s.failures {
		return s.err
	}

	return nil
}

func (s *flakyStore) Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}

	return []ScoredPoint{{ID: "p1", Collection: collection, Score: 1}}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxTries:        3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestRetryMiddlewareRetriesTransient(t *testing.T) {
	assert := assert.New(t)

	next := &flakyStore{failures: 2, err: Transient("search", io.ErrUnexpectedEOF)}
	store := RetryMiddleware(fastRetry())(next)

	points, err := store.Search(context.Background(), "docs", SearchRequest{TopK: 1})
	assert.NoError(err)
	assert.Len(points, 1)
	assert.Equal(3, next.calls)
}

func TestRetryMiddlewareGivesUpAfterMaxTries(t *testing.T) {
	assert := assert.New(t)

	next := &flakyStore{failures: 10, err: Transient("upsert", io.ErrUnexpectedEOF)}
	store := RetryMiddleware(fastRetry())(next)

	err := store.Upsert(context.Background(), "docs", nil)
	assert.ErrorIs(err, ErrTransient)
	assert.Equal(3, next.calls)
}

func TestRetryMiddlewareFatalPropagatesImmediately(t *testing.T) {
	assert := assert.New(t)

	next := &flakyStore{failures: 10, err: Fatal("upsert", ErrDimensionMismatch)}
	store := RetryMiddleware(fastRetry())(next)

	err := store.Upsert(context.Background(), "docs", nil)
	assert.ErrorIs(err, ErrDimensionMismatch)
	assert.ErrorIs(err, ErrFatal)
	assert.Equal(1, next.calls)
}
