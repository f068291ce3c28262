package ragblade

import (
	"context"

	"go.uber.org/zap"

	"github.com/flarexio/ragblade/vector"
)

func LoggingMiddleware(log *zap.Logger) ServiceMiddleware {
	log = log.With(
		zap.String("service", "ragblade"),
	)

	return func(next Service) Service {
		log.Info("service initialized")

		return &loggingMiddleware{
			log:  log,
			next: next,
		}
	}
}

type loggingMiddleware struct {
	log  *zap.Logger
	next Service
}

func (mw *loggingMiddleware) withRequest(ctx context.Context, log *zap.Logger) *zap.Logger {
	if id, ok := ctx.Value(RequestID).(string); ok {
		return log.With(zap.String("request_id", id))
	}

	return log
}

func (mw *loggingMiddleware) Close() error {
	log := mw.log.With(
		zap.String("action", "close"),
	)

	err := mw.next.Close()
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("service closed")
	return nil
}

func (mw *loggingMiddleware) Ingest(ctx context.Context, doc Document, ref vector.CollectionRef) (IngestReport, error) {
	log := mw.withRequest(ctx, mw.log.With(
		zap.String("action", "ingest"),
		zap.String("document_id", doc.ID),
		zap.String("collection", ref.Name),
		zap.String("domain", ref.Domain),
	))

	report, err := mw.next.Ingest(ctx, doc, ref)

	log = log.With(
		zap.String("collection", report.Collection),
		zap.Int("chunks", report.Chunks),
		zap.Int("upserted", len(report.Upserted)),
		zap.Int("failures", len(report.Failures)),
		zap.Int("cache_hits", report.CacheHits),
		zap.Int("cache_misses", report.CacheMisses),
	)

	if err != nil {
		log.Error(err.Error(), zap.Bool("canceled", report.Canceled))
		return report, err
	}

	if len(report.Failures) > 0 {
		log.Warn("document partially ingested")
		return report, nil
	}

	log.Info("document ingested")
	return report, nil
}

func (mw *loggingMiddleware) IngestFile(ctx context.Context, path string, owner Domain, ref vector.CollectionRef) (IngestReport, error) {
	log := mw.withRequest(ctx, mw.log.With(
		zap.String("action", "ingest_file"),
		zap.String("path", path),
		zap.String("owner", string(owner)),
	))

	report, err := mw.next.IngestFile(ctx, path, owner, ref)
	if err != nil {
		log.Error(err.Error())
		return report, err
	}

	log.Info("file ingested",
		zap.String("document_id", report.DocumentID),
		zap.String("collection", report.Collection),
		zap.Int("chunks", report.Chunks),
		zap.Int("failures", len(report.Failures)),
	)

	return report, nil
}

func (mw *loggingMiddleware) Retrieve(ctx context.Context, query string, ref vector.CollectionRef, topK int, filter vector.Filter) (QueryResult, error) {
	log := mw.withRequest(ctx, mw.log.With(
		zap.String("action", "retrieve"),
		zap.String("query", query),
		zap.String("collection", ref.Name),
		zap.String("domain", ref.Domain),
		zap.Int("k", topK),
		zap.Bool("filtered", len(filter) > 0),
	))

	result, err := mw.next.Retrieve(ctx, query, ref, topK, filter)
	if err != nil {
		log.Error(err.Error())
		return result, err
	}

	log.Info("chunks retrieved",
		zap.String("collection", result.Collection),
		zap.Int("count", len(result.Hits)),
	)

	return result, nil
}

func (mw *loggingMiddleware) EnsureCollection(ctx context.Context, ref vector.CollectionRef) (vector.CollectionRef, error) {
	log := mw.log.With(
		zap.String("action", "ensure_collection"),
		zap.String("domain", ref.Domain),
	)

	ensured, err := mw.next.EnsureCollection(ctx, ref)
	if err != nil {
		log.Error(err.Error())
		return ensured, err
	}

	log.Info("collection ensured",
		zap.String("collection", ensured.Name),
		zap.Int("dimensions", ensured.Dimensions),
		zap.String("metric", string(ensured.Metric)),
	)

	return ensured, nil
}

func (mw *loggingMiddleware) RecreateCollection(ctx context.Context, ref vector.CollectionRef) (vector.CollectionRef, error) {
	log := mw.log.With(
		zap.String("action", "recreate_collection"),
		zap.String("domain", ref.Domain),
	)

	recreated, err := mw.next.RecreateCollection(ctx, ref)
	if err != nil {
		log.Error(err.Error())
		return recreated, err
	}

	log.Info("collection recreated", zap.String("collection", recreated.Name))
	return recreated, nil
}

func (mw *loggingMiddleware) DropCollection(ctx context.Context, ref vector.CollectionRef) error {
	log := mw.log.With(
		zap.String("action", "drop_collection"),
		zap.String("collection", ref.Name),
		zap.String("domain", ref.Domain),
	)

	err := mw.next.DropCollection(ctx, ref)
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("collection dropped")
	return nil
}

func (mw *loggingMiddleware) ListCollections(ctx context.Context) ([]vector.Info, error) {
	log := mw.log.With(
		zap.String("action", "list_collections"),
	)

	infos, err := mw.next.ListCollections(ctx)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("collections listed", zap.Int("count", len(infos)))
	return infos, nil
}
