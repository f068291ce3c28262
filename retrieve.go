package ragblade

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/flarexio/ragblade/embedding"
	"github.com/flarexio/ragblade/vector"
)

func (svc *service) Retrieve(ctx context.Context, query string, ref vector.CollectionRef, topK int, filter vector.Filter) (QueryResult, error) {
	ref, err := svc.resolve(ctx, ref)
	if err != nil {
		return QueryResult{}, err
	}

	if embedding.Normalize(query) == "" {
		return QueryResult{}, ErrEmptyQuery
	}

	if topK <= 0 {
		topK = DefaultTopK
	}

	if err := filter.Validate(); err != nil {
		return QueryResult{}, err
	}

	vec, _, err := svc.cache.Embed(ctx, svc.provider, query)
	if err != nil {
		return QueryResult{}, err
	}

	if len(vec) != ref.Dimensions {
		return QueryResult{}, vector.Fatal("retrieve", fmt.Errorf("%w: query has %d dimensions, collection %s has %d",
			vector.ErrDimensionMismatch, len(vec), ref.Name, ref.Dimensions))
	}

	points, err := svc.store.Search(ctx, ref.Name, vector.SearchRequest{
		Vector: vec,
		TopK:   topK,
		Filter: filter,
	})
	if err != nil {
		return QueryResult{}, err
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		if p.Collection != "" && p.Collection != ref.Name {
			return QueryResult{}, vector.Fatal("retrieve", fmt.Errorf("%w: point %s from %s, want %s",
				ErrCollectionMismatch, p.ID, p.Collection, ref.Name))
		}

		if c, ok := p.Payload[PayloadCollection].(string); ok && c != ref.Name {
			return QueryResult{}, vector.Fatal("retrieve", fmt.Errorf("%w: point %s tagged %s, want %s",
				ErrCollectionMismatch, p.ID, c, ref.Name))
		}

		hits = append(hits, hitFromPoint(p))
	}

	sortHits(hits)

	if len(hits) > topK {
		hits = hits[:topK]
	}

	return QueryResult{
		Collection: ref.Name,
		Query:      query,
		TopK:       topK,
		Hits:       hits,
	}, nil
}

// sortHits orders by descending score, then ascending chunk index, then
// ascending document id.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]

		if a.Score != b.Score {
			return a.Score > b.Score
		}

		if a.ChunkIndex != b.ChunkIndex {
			return a.ChunkIndex < b.ChunkIndex
		}

		return a.DocumentID < b.DocumentID
	})
}

func hitFromPoint(p vector.ScoredPoint) Hit {
	hit := Hit{
		PointID:    p.ID,
		Score:      p.Score,
		DocumentID: payloadString(p.Payload, PayloadDocumentID),
		ChunkIndex: payloadInt(p.Payload, PayloadChunkIndex),
		Start:      payloadInt(p.Payload, PayloadStart),
		End:        payloadInt(p.Payload, PayloadEnd),
		Text:       payloadString(p.Payload, PayloadText),
		Source:     payloadString(p.Payload, PayloadSource),
		Owner:      Domain(payloadString(p.Payload, PayloadOwner)),
	}

	if metadata, ok := p.Payload[PayloadMetadata].(map[string]any); ok {
		hit.Metadata = metadata
	}

	return hit
}

func payloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
