package vector

import (
	"context"

	"go.uber.org/zap"
)

func LoggingMiddleware(log *zap.Logger) StoreMiddleware {
	log = log.With(
		zap.String("component", "vector_store"),
	)

	return func(next Store) Store {
		return &loggingMiddleware{
			log:  log,
			next: next,
		}
	}
}

type loggingMiddleware struct {
	log  *zap.Logger
	next Store
}

func (mw *loggingMiddleware) EnsureCollection(ctx context.Context, ref CollectionRef) error {
	log := mw.log.With(
		zap.String("action", "ensure_collection"),
		zap.String("collection", ref.Name),
		zap.Int("dimensions", ref.Dimensions),
		zap.String("metric", string(ref.Metric)),
	)

	err := mw.next.EnsureCollection(ctx, ref)
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Debug("collection ensured")
	return nil
}

func (mw *loggingMiddleware) DropCollection(ctx context.Context, name string) error {
	log := mw.log.With(
		zap.String("action", "drop_collection"),
		zap.String("collection", name),
	)

	err := mw.next.DropCollection(ctx, name)
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("collection dropped")
	return nil
}

func (mw *loggingMiddleware) ListCollections(ctx context.Context) ([]string, error) {
	names, err := mw.next.ListCollections(ctx)
	if err != nil {
		mw.log.Error(err.Error(), zap.String("action", "list_collections"))
		return nil, err
	}

	return names, nil
}

func (mw *loggingMiddleware) CollectionInfo(ctx context.Context, name string) (Info, error) {
	info, err := mw.next.CollectionInfo(ctx, name)
	if err != nil {
		mw.log.Error(err.Error(),
			zap.String("action", "collection_info"),
			zap.String("collection", name),
		)
		return Info{}, err
	}

	return info, nil
}

func (mw *loggingMiddleware) Upsert(ctx context.Context, collection string, points []Point) error {
	log := mw.log.With(
		zap.String("action", "upsert"),
		zap.String("collection", collection),
		zap.Int("points", len(points)),
	)

	err := mw.next.Upsert(ctx, collection, points)
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Debug("points upserted")
	return nil
}

func (mw *loggingMiddleware) Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error) {
	log := mw.log.With(
		zap.String("action", "search"),
		zap.String("collection", collection),
		zap.Int("k", req.TopK),
		zap.Bool("filtered", len(req.Filter) > 0),
	)

	points, err := mw.next.Search(ctx, collection, req)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Debug("points searched", zap.Int("count", len(points)))
	return points, nil
}

func (mw *loggingMiddleware) Close() error {
	return mw.next.Close()
}
