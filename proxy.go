package ragblade

import (
	"context"
	"errors"

	"github.com/flarexio/ragblade/loader"
	"github.com/flarexio/ragblade/vector"
)

// ProxyMiddleware serves the Service through remote endpoints. Files are
// loaded locally and sent as documents.
func ProxyMiddleware(endpoints *EndpointSet) ServiceMiddleware {
	return func(next Service) Service {
		return &proxyMiddleware{
			endpoints: endpoints,
		}
	}
}

type proxyMiddleware struct {
	endpoints *EndpointSet
}

func (mw *proxyMiddleware) Close() error {
	return errors.New("method not implemented")
}

func fromContext(ctx context.Context, ref vector.CollectionRef) vector.CollectionRef {
	if ref != (vector.CollectionRef{}) {
		return ref
	}

	current, ok := CollectionFromContext(ctx)
	if !ok {
		return ref
	}

	return current
}

func (mw *proxyMiddleware) Ingest(ctx context.Context, doc Document, ref vector.CollectionRef) (IngestReport, error) {
	req := IngestRequest{
		Collection: fromContext(ctx, ref),
		Document:   doc,
	}

	resp, err := mw.endpoints.Ingest(ctx, req)

	report, ok := resp.(IngestReport)
	if err != nil {
		return report, err
	}

	if !ok {
		return IngestReport{}, errors.New("invalid response type")
	}

	return report, nil
}

func (mw *proxyMiddleware) IngestFile(ctx context.Context, path string, owner Domain, ref vector.CollectionRef) (IngestReport, error) {
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

	return mw.Ingest(ctx, doc, ref)
}

func (mw *proxyMiddleware) Retrieve(ctx context.Context, query string, ref vector.CollectionRef, topK int, filter vector.Filter) (QueryResult, error) {
	req := RetrieveRequest{
		Collection: fromContext(ctx, ref),
		Query:      query,
		TopK:       topK,
		Filter:     filter,
	}

	resp, err := mw.endpoints.Retrieve(ctx, req)
	if err != nil {
		return QueryResult{}, err
	}

	result, ok := resp.(QueryResult)
	if !ok {
		return QueryResult{}, errors.New("invalid response type")
	}

	return result, nil
}

func (mw *proxyMiddleware) collection(ctx context.Context, e func(context.Context, any) (any, error), ref vector.CollectionRef) (vector.CollectionRef, error) {
	resp, err := e(ctx, CollectionRequest(ref))
	if err != nil {
		return vector.CollectionRef{}, err
	}

	result, ok := resp.(vector.CollectionRef)
	if !ok {
		return vector.CollectionRef{}, errors.New("invalid response type")
	}

	return result, nil
}

func (mw *proxyMiddleware) EnsureCollection(ctx context.Context, ref vector.CollectionRef) (vector.CollectionRef, error) {
	return mw.collection(ctx, mw.endpoints.EnsureCollection, ref)
}

func (mw *proxyMiddleware) RecreateCollection(ctx context.Context, ref vector.CollectionRef) (vector.CollectionRef, error) {
	return mw.collection(ctx, mw.endpoints.RecreateCollection, ref)
}

func (mw *proxyMiddleware) DropCollection(ctx context.Context, ref vector.CollectionRef) error {
	_, err := mw.endpoints.DropCollection(ctx, CollectionRequest(ref))
	return err
}

func (mw *proxyMiddleware) ListCollections(ctx context.Context) ([]vector.Info, error) {
	resp, err := mw.endpoints.ListCollections(ctx, nil)
	if err != nil {
		return nil, err
	}

	infos, ok := resp.([]vector.Info)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return infos, nil
}
