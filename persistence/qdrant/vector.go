package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/flarexio/ragblade/vector"
)

const (
	DefaultHost     = "localhost"
	DefaultPort     = 6333
	DefaultPoolSize = 8
	DefaultTimeout  = 30 * time.Second

	maxErrorBodyBytes = 2048
)

var distances = map[vector.Metric]string{
	vector.MetricCosine:    "Cosine",
	vector.MetricDot:       "Dot",
	vector.MetricEuclid:    "Euclid",
	vector.MetricManhattan: "Manhattan",
}

func metricOf(distance string) vector.Metric {
	for m, d := range distances {
		if strings.EqualFold(d, distance) {
			return m
		}
	}

	return vector.Metric(strings.ToLower(distance))
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type collectionResult struct {
	PointsCount *int `json:"points_count"`
	Config      struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

type searchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

type qdrantVectorStore struct {
	baseURL string
	apiKey  string
	http    *http.Client
	pool    *semaphore.Weighted

	metrics map[string]vector.Metric
	sync.RWMutex
}

// NewQdrantVectorStore returns a REST client for a Qdrant server. At most
// PoolSize requests are in flight; further requests wait for a free slot.
func NewQdrantVectorStore(cfg vector.QdrantConfig) (vector.Store, error) {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	scheme := "http"
	if cfg.HTTPS {
		scheme = "https"
	}

	base := url.URL{
		Scheme: scheme,
		Host:   host + ":" + strconv.Itoa(port),
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = poolSize
	transport.MaxIdleConnsPerHost = poolSize

	return &qdrantVectorStore{
		baseURL: base.String(),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		pool:    semaphore.NewWeighted(int64(poolSize)),
		metrics: make(map[string]vector.Metric),
	}, nil
}

func collectionPath(name string, suffix string) string {
	return "/collections/" + url.PathEscape(name) + suffix
}

func (s *qdrantVectorStore) EnsureCollection(ctx context.Context, ref vector.CollectionRef) error {
	const op = "ensure_collection"

	if err := ref.Validate(); err != nil {
		return err
	}

	distance, ok := distances[ref.Metric]
	if !ok {
		return vector.Fatal(op, fmt.Errorf("%w: %s", vector.ErrUnsupportedMetric, ref.Metric))
	}

	var existing collectionResult
	err := s.doJSON(ctx, op, http.MethodGet, collectionPath(ref.Name, ""), nil, &existing)
	switch {
	case err == nil:
		params := existing.Config.Params.Vectors
		if params.Size != ref.Dimensions || !strings.EqualFold(params.Distance, distance) {
			return vector.Fatal(op, fmt.Errorf("%w: %s has %d/%s, want %d/%s",
				vector.ErrSchemaMismatch, ref.Name,
				params.Size, params.Distance,
				ref.Dimensions, distance,
			))
		}

	case errors.Is(err, vector.ErrCollectionNotFound):
		req := map[string]any{
			"vectors": map[string]any{
				"size":     ref.Dimensions,
				"distance": distance,
			},
		}

		if err := s.doJSON(ctx, op, http.MethodPut, collectionPath(ref.Name, ""), req, nil); err != nil {
			return err
		}

	default:
		return err
	}

	s.Lock()
	s.metrics[ref.Name] = ref.Metric
	s.Unlock()

	return nil
}

func (s *qdrantVectorStore) DropCollection(ctx context.Context, name string) error {
	err := s.doJSON(ctx, "drop_collection", http.MethodDelete, collectionPath(name, ""), nil, nil)
	if err != nil && !errors.Is(err, vector.ErrCollectionNotFound) {
		return err
	}

	s.Lock()
	delete(s.metrics, name)
	s.Unlock()

	return nil
}

func (s *qdrantVectorStore) ListCollections(ctx context.Context) ([]string, error) {
	var result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}

	if err := s.doJSON(ctx, "list_collections", http.MethodGet, "/collections", nil, &result); err != nil {
		return nil, err
	}

	names := make([]string, len(result.Collections))
	for i, c := range result.Collections {
		names[i] = c.Name
	}

	return names, nil
}

func (s *qdrantVectorStore) CollectionInfo(ctx context.Context, name string) (vector.Info, error) {
	const op = "collection_info"

	var result collectionResult
	if err := s.doJSON(ctx, op, http.MethodGet, collectionPath(name, ""), nil, &result); err != nil {
		return vector.Info{}, err
	}

	var count struct {
		Count int `json:"count"`
	}

	req := map[string]any{"exact": true}
	if err := s.doJSON(ctx, op, http.MethodPost, collectionPath(name, "/points/count"), req, &count); err != nil {
		return vector.Info{}, err
	}

	metric := metricOf(result.Config.Params.Vectors.Distance)

	s.Lock()
	s.metrics[name] = metric
	s.Unlock()

	return vector.Info{
		Name:       name,
		Dimensions: result.Config.Params.Vectors.Size,
		Metric:     metric,
		Count:      count.Count,
	}, nil
}

func (s *qdrantVectorStore) Upsert(ctx context.Context, collection string, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}

	items := make([]map[string]any, len(points))
	for i, p := range points {
		if p.ID == "" {
			return vector.Fatal("upsert", errors.New("point id required"))
		}

		items[i] = map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		}
	}

	req := map[string]any{"points": items}
	return s.doJSON(ctx, "upsert", http.MethodPut, collectionPath(collection, "/points?wait=true"), req, nil)
}

func (s *qdrantVectorStore) Search(ctx context.Context, collection string, req vector.SearchRequest) ([]vector.ScoredPoint, error) {
	const op = "search"

	if req.TopK <= 0 {
		return nil, vector.Fatal(op, fmt.Errorf("%w: top k must be positive", vector.ErrMalformedQuery))
	}

	if len(req.Vector) == 0 {
		return nil, vector.Fatal(op, fmt.Errorf("%w: empty query vector", vector.ErrMalformedQuery))
	}

	if err := req.Filter.Validate(); err != nil {
		return nil, err
	}

	body := map[string]any{
		"vector":       req.Vector,
		"limit":        req.TopK,
		"with_payload": true,
	}

	if filter := req.Filter.Qdrant(); filter != nil {
		body["filter"] = filter
	}

	var items []searchResultItem
	if err := s.doJSON(ctx, op, http.MethodPost, collectionPath(collection, "/points/search"), body, &items); err != nil {
		return nil, err
	}

	metric, err := s.metric(ctx, collection)
	if err != nil {
		return nil, err
	}

	points := make([]vector.ScoredPoint, 0, len(items))
	for _, item := range items {
		points = append(points, vector.ScoredPoint{
			ID:         decodePointID(item.ID),
			Collection: collection,
			Score:      normalizeScore(metric, item.Score),
			Payload:    item.Payload,
		})
	}

	return points, nil
}

func (s *qdrantVectorStore) metric(ctx context.Context, collection string) (vector.Metric, error) {
	s.RLock()
	metric, ok := s.metrics[collection]
	s.RUnlock()

	if ok {
		return metric, nil
	}

	info, err := s.CollectionInfo(ctx, collection)
	if err != nil {
		return "", err
	}

	return info.Metric, nil
}

func (s *qdrantVectorStore) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

func (s *qdrantVectorStore) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	if err := s.pool.Acquire(ctx, 1); err != nil {
		return vector.Classify(op, err)
	}
	defer s.pool.Release(1)

	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return vector.Fatal(op, fmt.Errorf("encode request: %w", err))
		}

		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return vector.Fatal(op, err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return vector.Classify(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return vector.Classify(op, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return vector.ClassifyStatus(op, resp.StatusCode,
			fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, truncateBody(raw)))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return vector.ClassifyStatus(op, resp.StatusCode,
			fmt.Errorf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return vector.Fatal(op, fmt.Errorf("decode qdrant envelope: %w", err))
	}

	if msg := parseEnvelopeStatus(env.Status); msg != "" {
		return vector.ClassifyStatus(op, resp.StatusCode, errors.New(msg))
	}

	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}

	if err := json.Unmarshal(env.Result, out); err != nil {
		return vector.Fatal(op, fmt.Errorf("decode qdrant result: %w", err))
	}

	return nil
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.EqualFold(s, "ok") {
			return ""
		}

		return fmt.Sprintf("qdrant status=%q", s)
	}

	var obj struct {
		Error string `json:"error"`
	}

	if err := json.Unmarshal(raw, &obj); err == nil && strings.TrimSpace(obj.Error) != "" {
		return strings.TrimSpace(obj.Error)
	}

	return "qdrant status=" + status
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}

	return string(raw[:maxErrorBodyBytes]) + "..."
}

func decodePointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}

	return strings.TrimSpace(string(raw))
}

// normalizeScore maps distances to similarities so higher is always better.
func normalizeScore(metric vector.Metric, score float64) float64 {
	switch metric {
	case vector.MetricEuclid, vector.MetricManhattan:
		if score < 0 {
			score = -score
		}

		return 1 / (1 + score)

	default:
		return score
	}
}
