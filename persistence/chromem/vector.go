package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/flarexio/ragblade/vector"
)

// schemaCollection keeps one document per collection describing its
// dimensions and metric, since chromem does not expose collection metadata.
const schemaCollection = "_ragblade_schemas"

const payloadKey = "payload"

var errNoEmbedder = errors.New("chromem adapter stores precomputed embeddings only")

func noEmbedder(ctx context.Context, text string) ([]float32, error) {
	return nil, errNoEmbedder
}

func NewChromemVectorStore(cfg vector.ChromemConfig) (vector.Store, error) {
	var db *chromem.DB
	if !cfg.Persistent {
		db = chromem.NewDB()
	} else {
		d, err := chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, err
		}

		db = d
	}

	schemas, err := db.GetOrCreateCollection(schemaCollection, nil, noEmbedder)
	if err != nil {
		return nil, err
	}

	return &chromemVectorStore{
		db:      db,
		schemas: schemas,
	}, nil
}

type chromemVectorStore struct {
	db      *chromem.DB
	schemas *chromem.Collection
	sync.RWMutex
}

func (store *chromemVectorStore) schema(ctx context.Context, name string) (vector.CollectionRef, bool, error) {
	if store.db.GetCollection(name, noEmbedder) == nil {
		return vector.CollectionRef{}, false, nil
	}

	doc, err := store.schemas.GetByID(ctx, name)
	if err != nil {
		return vector.CollectionRef{}, false, vector.Fatal("schema", fmt.Errorf("collection %s has no schema: %w", name, err))
	}

	dims, err := strconv.Atoi(doc.Metadata["dimensions"])
	if err != nil {
		return vector.CollectionRef{}, false, vector.Fatal("schema", err)
	}

	return vector.CollectionRef{
		Name:       name,
		Domain:     doc.Metadata["domain"],
		Dimensions: dims,
		Metric:     vector.Metric(doc.Metadata["metric"]),
	}, true, nil
}

func (store *chromemVectorStore) EnsureCollection(ctx context.Context, ref vector.CollectionRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	if ref.Name == schemaCollection {
		return vector.Fatal("ensure_collection", vector.ErrInvalidCollection)
	}

	if ref.Metric != vector.MetricCosine {
		return vector.Fatal("ensure_collection", fmt.Errorf("%w: %s", vector.ErrUnsupportedMetric, ref.Metric))
	}

	store.Lock()
	defer store.Unlock()

	existing, ok, err := store.schema(ctx, ref.Name)
	if err != nil {
		return err
	}

	if ok {
		if existing.Dimensions != ref.Dimensions || existing.Metric != ref.Metric {
			return vector.Fatal("ensure_collection", fmt.Errorf("%w: %s has %d/%s, want %d/%s",
				vector.ErrSchemaMismatch, ref.Name,
				existing.Dimensions, existing.Metric,
				ref.Dimensions, ref.Metric,
			))
		}

		return nil
	}

	err = store.schemas.AddDocument(ctx, chromem.Document{
		ID: ref.Name,
		Metadata: map[string]string{
			"dimensions": strconv.Itoa(ref.Dimensions),
			"metric":     string(ref.Metric),
			"domain":     ref.Domain,
		},
		Embedding: []float32{1},
		Content:   ref.Name,
	})
	if err != nil {
		return vector.Fatal("ensure_collection", err)
	}

	if _, err := store.db.CreateCollection(ref.Name, nil, noEmbedder); err != nil {
		return vector.Fatal("ensure_collection", err)
	}

	return nil
}

func (store *chromemVectorStore) DropCollection(ctx context.Context, name string) error {
	store.Lock()
	defer store.Unlock()

	if err := store.db.DeleteCollection(name); err != nil {
		return vector.Fatal("drop_collection", err)
	}

	if err := store.schemas.Delete(ctx, nil, nil, name); err != nil {
		return vector.Fatal("drop_collection", err)
	}

	return nil
}

func (store *chromemVectorStore) ListCollections(ctx context.Context) ([]string, error) {
	store.RLock()
	defer store.RUnlock()

	collections := store.db.ListCollections()

	names := make([]string, 0, len(collections))
	for name := range collections {
		if name == schemaCollection {
			continue
		}

		names = append(names, name)
	}

	sort.Strings(names)
	return names, nil
}

func (store *chromemVectorStore) CollectionInfo(ctx context.Context, name string) (vector.Info, error) {
	store.RLock()
	defer store.RUnlock()

	ref, ok, err := store.schema(ctx, name)
	if err != nil {
		return vector.Info{}, err
	}

	if !ok {
		return vector.Info{}, vector.Fatal("collection_info", fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name))
	}

	c := store.db.GetCollection(name, noEmbedder)
	return vector.Info{
		Name:       name,
		Dimensions: ref.Dimensions,
		Metric:     ref.Metric,
		Count:      c.Count(),
	}, nil
}

func (store *chromemVectorStore) collection(ctx context.Context, op string, name string) (*chromem.Collection, vector.CollectionRef, error) {
	ref, ok, err := store.schema(ctx, name)
	if err != nil {
		return nil, vector.CollectionRef{}, err
	}

	if !ok {
		return nil, vector.CollectionRef{}, vector.Fatal(op, fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name))
	}

	return store.db.GetCollection(name, noEmbedder), ref, nil
}

func (store *chromemVectorStore) Upsert(ctx context.Context, name string, points []vector.Point) error {
	store.RLock()
	defer store.RUnlock()

	c, ref, err := store.collection(ctx, "upsert", name)
	if err != nil {
		return err
	}

	if err := vector.CheckDimensions("upsert", ref.Dimensions, points); err != nil {
		return err
	}

	for _, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return vector.Fatal("upsert", err)
		}

		content, _ := p.Payload["text"].(string)

		err = c.AddDocument(ctx, chromem.Document{
			ID:        p.ID,
			Metadata:  map[string]string{payloadKey: string(payload)},
			Embedding: p.Vector,
			Content:   content,
		})
		if err != nil {
			return vector.Classify("upsert", err)
		}
	}

	return nil
}

func (store *chromemVectorStore) Search(ctx context.Context, name string, req vector.SearchRequest) ([]vector.ScoredPoint, error) {
	if req.TopK <= 0 {
		return nil, vector.Fatal("search", fmt.Errorf("%w: top k must be positive", vector.ErrMalformedQuery))
	}

	if err := req.Filter.Validate(); err != nil {
		return nil, err
	}

	store.RLock()
	defer store.RUnlock()

	c, ref, err := store.collection(ctx, "search", name)
	if err != nil {
		return nil, err
	}

	if len(req.Vector) != ref.Dimensions {
		return nil, vector.Fatal("search", fmt.Errorf("%w: query has %d dimensions, collection %d",
			vector.ErrDimensionMismatch, len(req.Vector), ref.Dimensions))
	}

	count := c.Count()
	if count == 0 {
		return []vector.ScoredPoint{}, nil
	}

	// Filters are applied in process, so filtered searches rank the whole
	// collection first.
	n := min(req.TopK, count)
	if len(req.Filter) > 0 {
		n = count
	}

	results, err := c.QueryEmbedding(ctx, req.Vector, n, nil, nil)
	if err != nil {
		return nil, vector.Classify("search", err)
	}

	points := make([]vector.ScoredPoint, 0, min(req.TopK, len(results)))
	for _, result := range results {
		var payload map[string]any
		if raw := result.Metadata[payloadKey]; raw != "" {
			decoder := json.NewDecoder(strings.NewReader(raw))
			if err := decoder.Decode(&payload); err != nil {
				return nil, vector.Fatal("search", err)
			}
		}

		if !req.Filter.Match(payload) {
			continue
		}

		points = append(points, vector.ScoredPoint{
			ID:         result.ID,
			Collection: name,
			Score:      float64(result.Similarity),
			Payload:    payload,
		})

		if len(points) == req.TopK {
			break
		}
	}

	return points, nil
}

func (store *chromemVectorStore) Close() error {
	return nil
}
