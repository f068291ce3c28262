package ragblade

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/flarexio/ragblade/chunker"
	"github.com/flarexio/ragblade/embedding"
	"github.com/flarexio/ragblade/loader"
	"github.com/flarexio/ragblade/vector"
)

// Service defines the core logic of RAGBlade.
//
// Collection references passed to the service may be partial: a missing
// name is resolved from the domain, missing dimensions and metric from
// the embedding provider and configuration. An empty reference targets
// the collection carried by the context.
type Service interface {

	// Close stops background work and releases the cache and the store.
	Close() error

	// Ingest chunks, embeds and upserts a document into a collection.
	Ingest(ctx context.Context, doc Document, ref vector.CollectionRef) (IngestReport, error)

	// IngestFile loads a text, markdown, PDF or Word file and ingests it.
	IngestFile(ctx context.Context, path string, owner Domain, ref vector.CollectionRef) (IngestReport, error)

	// Retrieve returns the topK chunks most similar to the query.
	Retrieve(ctx context.Context, query string, ref vector.CollectionRef, topK int, filter vector.Filter) (QueryResult, error)

	// EnsureCollection creates the collection or verifies its schema.
	EnsureCollection(ctx context.Context, ref vector.CollectionRef) (vector.CollectionRef, error)

	// RecreateCollection drops and recreates the collection empty.
	RecreateCollection(ctx context.Context, ref vector.CollectionRef) (vector.CollectionRef, error)

	DropCollection(ctx context.Context, ref vector.CollectionRef) error

	ListCollections(ctx context.Context) ([]vector.Info, error)
}

type ServiceMiddleware func(Service) Service

func NewService(ctx context.Context, cfg Config, store vector.Store, provider embedding.Provider, cache *embedding.Cache) (Service, error) {
	if store == nil {
		return nil, errors.New("vector store not set")
	}

	if provider == nil {
		return nil, errors.New("embedding provider not set")
	}

	if cache == nil {
		cache = embedding.NewCache(embedding.NewMemoryStore())
	}

	if err := cfg.Chunking.Validate(); err != nil {
		return nil, err
	}

	metric, err := vector.ParseMetric(cfg.Vector.Metric)
	if err != nil {
		return nil, err
	}

	if cfg.Ingest.BatchSize <= 0 {
		cfg.Ingest.BatchSize = DefaultBatchSize
	}

	if cfg.Ingest.Concurrency <= 0 {
		cfg.Ingest.Concurrency = DefaultConcurrency
	}

	log := zap.L().With(
		zap.String("service", "ragblade"),
	)

	ctx, cancel := context.WithCancel(ctx)

	svc := &service{
		cfg:         cfg,
		collections: NewCollections(store, cfg.Collections, provider.Dimensions(), metric),
		store:       store,
		provider:    provider,
		cache:       cache,
		log:         log,
		cancel:      cancel,
	}

	if cfg.Cache.MaxAge > 0 && cfg.Cache.PruneInterval > 0 {
		go svc.pruneCache(ctx, cfg.Cache.PruneInterval.Duration(), cfg.Cache.MaxAge.Duration())
	}

	return svc, nil
}

type service struct {
	cfg         Config
	collections *Collections
	store       vector.Store
	provider    embedding.Provider
	cache       *embedding.Cache
	log         *zap.Logger
	cancel      context.CancelFunc
}

func (svc *service) Close() error {
	if svc.cancel != nil {
		svc.cancel()
		svc.cancel = nil
	}

	return errors.Join(
		svc.cache.Close(),
		svc.store.Close(),
	)
}

func (svc *service) pruneCache(ctx context.Context, interval time.Duration, maxAge time.Duration) {
	log := svc.log.With(
		zap.String("action", "prune_cache"),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			removed, err := svc.cache.Prune(ctx, time.Now().Add(-maxAge))
			if err != nil {
				log.Error(err.Error())
				continue
			}

			if removed > 0 {
				log.Info("cache pruned", zap.Int("removed", removed))
			}
		}
	}
}

// resolve picks the collection for a call: the given reference, or the
// one switched into the context.
func (svc *service) resolve(ctx context.Context, ref vector.CollectionRef) (vector.CollectionRef, error) {
	if ref == (vector.CollectionRef{}) {
		current, ok := CollectionFromContext(ctx)
		if !ok {
			return vector.CollectionRef{}, ErrCollectionNotSet
		}

		ref = current
	}

	return svc.collections.Resolve(ref)
}

func (svc *service) policy(ctx context.Context) chunker.Policy {
	if policy, ok := ctx.Value(ChunkingKey).(chunker.Policy); ok {
		return policy
	}

	return svc.cfg.Chunking
}

func (svc *service) IngestFile(ctx context.Context, path string, owner Domain, ref vector.CollectionRef) (IngestReport, error) {
	src, err := loader.Load(path)
	if err != nil {
		return IngestReport{}, err
	}

	doc := Document{
		ID:       DocumentID(src.Source, src.Text),
		Source:   src.Source,
		Text:     src.Text,
		Owner:    owner,
		Metadata: src.Metadata,
	}

	return svc.Ingest(ctx, doc, ref)
}

func (svc *service) EnsureCollection(ctx context.Context, ref vector.CollectionRef) (vector.CollectionRef, error) {
	ref, err := svc.collections.Resolve(ref)
	if err != nil {
		return vector.CollectionRef{}, err
	}

	if err := svc.collections.EnsureRef(ctx, ref); err != nil {
		return vector.CollectionRef{}, err
	}

	return ref, nil
}

func (svc *service) RecreateCollection(ctx context.Context, ref vector.CollectionRef) (vector.CollectionRef, error) {
	ref, err := svc.collections.Resolve(ref)
	if err != nil {
		return vector.CollectionRef{}, err
	}

	if err := svc.collections.Recreate(ctx, ref); err != nil {
		return vector.CollectionRef{}, err
	}

	return ref, nil
}

func (svc *service) DropCollection(ctx context.Context, ref vector.CollectionRef) error {
	ref, err := svc.collections.Resolve(ref)
	if err != nil {
		return err
	}

	return svc.collections.Drop(ctx, ref.Name)
}

func (svc *service) ListCollections(ctx context.Context) ([]vector.Info, error) {
	return svc.collections.List(ctx)
}
