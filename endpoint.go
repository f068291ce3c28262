package ragblade

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"

	"github.com/flarexio/ragblade/vector"
)

type EndpointSet struct {
	Ingest             endpoint.Endpoint
	Retrieve           endpoint.Endpoint
	EnsureCollection   endpoint.Endpoint
	RecreateCollection endpoint.Endpoint
	DropCollection     endpoint.Endpoint
	ListCollections    endpoint.Endpoint
}

func MakeEndpoints(svc Service) *EndpointSet {
	return &EndpointSet{
		Ingest:             IngestEndpoint(svc),
		Retrieve:           RetrieveEndpoint(svc),
		EnsureCollection:   EnsureCollectionEndpoint(svc),
		RecreateCollection: RecreateCollectionEndpoint(svc),
		DropCollection:     DropCollectionEndpoint(svc),
		ListCollections:    ListCollectionsEndpoint(svc),
	}
}

type IngestRequest struct {
	Collection vector.CollectionRef `json:"collection"`
	Document   Document             `json:"document"`
}

func IngestEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(IngestRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		if req.Collection == (vector.CollectionRef{}) && req.Document.Owner != "" {
			req.Collection.Domain = string(req.Document.Owner)
		}

		return svc.Ingest(ctx, req.Document, req.Collection)
	}
}

type RetrieveRequest struct {
	Collection vector.CollectionRef `json:"collection"`
	Query      string               `json:"query"`
	TopK       int                  `json:"top_k,omitempty"`
	Filter     vector.Filter        `json:"filter,omitempty"`
}

func RetrieveEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(RetrieveRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.Retrieve(ctx, req.Query, req.Collection, req.TopK, req.Filter)
	}
}

type CollectionRequest = vector.CollectionRef

func EnsureCollectionEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(CollectionRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.EnsureCollection(ctx, req)
	}
}

func RecreateCollectionEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(CollectionRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.RecreateCollection(ctx, req)
	}
}

func DropCollectionEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(CollectionRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		err := svc.DropCollection(ctx, req)
		return nil, err
	}
}

func ListCollectionsEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		return svc.ListCollections(ctx)
	}
}
