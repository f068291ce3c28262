package ragblade

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/flarexio/ragblade/chunker"
	"github.com/flarexio/ragblade/embedding"
	"github.com/flarexio/ragblade/vector"
)

type embedResult struct {
	vector []float32
	hit    bool
	err    error
}

func (svc *service) Ingest(ctx context.Context, doc Document, ref vector.CollectionRef) (IngestReport, error) {
	ref, err := svc.resolve(ctx, ref)
	if err != nil {
		return IngestReport{}, err
	}

	if strings.TrimSpace(doc.ID) == "" {
		doc.ID = DocumentID(doc.Source, doc.Text)
	}

	report := IngestReport{
		DocumentID: doc.ID,
		Collection: ref.Name,
		Upserted:   make([]string, 0),
	}

	if timeout := svc.cfg.Ingest.Timeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	chunks, err := chunker.Split(chunker.Document{ID: doc.ID, Text: doc.Text}, svc.policy(ctx))
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	report.Chunks = len(chunks)
	for _, c := range chunks {
		if c.ForceSplit {
			report.ForcedSplits++
		}
	}

	batchSize := svc.cfg.Ingest.BatchSize
	var lastErr error

	for start := 0; start < len(chunks); start += batchSize {
		if err := ctx.Err(); err != nil {
			report.Canceled = true
			return report, err
		}

		batch := chunks[start:min(start+batchSize, len(chunks))]
		results := svc.embedBatch(ctx, batch)

		points := make([]vector.Point, 0, len(batch))
		pending := make([]chunker.Chunk, 0, len(batch))

		for i, c := range batch {
			res := results[i]
			id := PointID(doc.ID, c.Index)

			if res.err == nil && len(res.vector) != ref.Dimensions {
				res.err = vector.Fatal("ingest", fmt.Errorf("%w: chunk %d has %d dimensions, collection %s has %d",
					vector.ErrDimensionMismatch, c.Index, len(res.vector), ref.Name, ref.Dimensions))
			}

			if res.err != nil {
				report.Failures = append(report.Failures, ChunkFailure{
					ChunkIndex: c.Index,
					PointID:    id,
					Stage:      StageEmbed,
					Error:      res.err.Error(),
					err:        res.err,
				})

				lastErr = res.err
				continue
			}

			if res.hit {
				report.CacheHits++
			} else {
				report.CacheMisses++
			}

			points = append(points, vector.Point{
				ID:      id,
				Vector:  res.vector,
				Payload: svc.payload(doc, c, ref),
			})

			pending = append(pending, c)
		}

		if len(points) == 0 {
			continue
		}

		if err := svc.store.Upsert(ctx, ref.Name, points); err != nil {
			for i, c := range pending {
				report.Failures = append(report.Failures, ChunkFailure{
					ChunkIndex: c.Index,
					PointID:    points[i].ID,
					Stage:      StageUpsert,
					Error:      err.Error(),
					err:        err,
				})
			}

			lastErr = err
			continue
		}

		for _, p := range points {
			report.Upserted = append(report.Upserted, p.ID)
		}
	}

	if len(report.Upserted) == 0 && lastErr != nil {
		return report, fmt.Errorf("%w: %s: %w", ErrIngestFailed, doc.ID, lastErr)
	}

	return report, nil
}

// embedBatch resolves the embeddings of a batch with bounded parallelism.
// Failures stay per chunk and never cancel the siblings.
func (svc *service) embedBatch(ctx context.Context, batch []chunker.Chunk) []embedResult {
	results := make([]embedResult, len(batch))

	var g errgroup.Group
	g.SetLimit(svc.cfg.Ingest.Concurrency)

	for i, c := range batch {
		g.Go(func() error {
			vec, hit, err := svc.cache.Embed(ctx, svc.provider, c.Text)
			results[i] = embedResult{vec, hit, err}
			return nil
		})
	}

	g.Wait()
	return results
}

// payload records the cache key hash of the chunk, so a point can be
// traced back to its cached embedding.
func (svc *service) payload(doc Document, c chunker.Chunk, ref vector.CollectionRef) map[string]any {
	model := svc.provider.Model()

	payload := map[string]any{
		PayloadDocumentID:  doc.ID,
		PayloadChunkIndex:  c.Index,
		PayloadStart:       c.Start,
		PayloadEnd:         c.End,
		PayloadText:        c.Text,
		PayloadContentHash: embedding.KeyFor(model, c.Text).ContentHash,
		PayloadModel:       model,
		PayloadCollection:  ref.Name,
	}

	if doc.Source != "" {
		payload[PayloadSource] = doc.Source
	}

	if doc.Owner != "" {
		payload[PayloadOwner] = string(doc.Owner)
	}

	if len(doc.Metadata) > 0 {
		payload[PayloadMetadata] = doc.Metadata
	}

	return payload
}
