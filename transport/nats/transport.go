package nats

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/vector"
)

const HeaderRequestID = "request_id"

func requestContext(r micro.Request) context.Context {
	ctx := context.Background()

	if id := r.Headers().Get(HeaderRequestID); id != "" {
		ctx = context.WithValue(ctx, ragblade.RequestID, id)
	}

	return ctx
}

// Code maps a service error to the micro error code sent back to callers.
func Code(err error) string {
	switch {
	case vector.IsTransient(err):
		return "503"

	case errors.Is(err, ragblade.ErrUnknownDomain),
		errors.Is(err, ragblade.ErrDomainMismatch),
		errors.Is(err, ragblade.ErrCollectionNotSet),
		errors.Is(err, ragblade.ErrEmptyQuery),
		errors.Is(err, ragblade.ErrInvalidDocument),
		errors.Is(err, vector.ErrMalformedQuery),
		errors.Is(err, vector.ErrUnsupportedFilter):
		return "400"

	case errors.Is(err, vector.ErrCollectionNotFound):
		return "404"

	case errors.Is(err, vector.ErrSchemaMismatch):
		return "409"

	default:
		return "417"
	}
}

func IngestHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req ragblade.IngestRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error("400", err.Error(), nil)
			return
		}

		ctx := requestContext(r)
		resp, err := endpoint(ctx, req)

		report, ok := resp.(ragblade.IngestReport)
		if !ok {
			if err != nil {
				r.Error(Code(err), err.Error(), nil)
				return
			}

			r.Error("500", "invalid response type", nil)
			return
		}

		if err != nil {
			// the partial report travels with the error
			data, _ := json.Marshal(&report)
			r.Error(Code(err), err.Error(), data)
			return
		}

		r.RespondJSON(&report)
	}
}

func RetrieveHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req ragblade.RetrieveRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error("400", err.Error(), nil)
			return
		}

		ctx := requestContext(r)
		resp, err := endpoint(ctx, req)
		if err != nil {
			r.Error(Code(err), err.Error(), nil)
			return
		}

		result, ok := resp.(ragblade.QueryResult)
		if !ok {
			r.Error("500", "invalid response type", nil)
			return
		}

		r.RespondJSON(&result)
	}
}

func CollectionHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req ragblade.CollectionRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error("400", err.Error(), nil)
			return
		}

		ctx := requestContext(r)
		resp, err := endpoint(ctx, req)
		if err != nil {
			r.Error(Code(err), err.Error(), nil)
			return
		}

		r.RespondJSON(&resp)
	}
}

func ListCollectionsHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		ctx := requestContext(r)
		resp, err := endpoint(ctx, nil)
		if err != nil {
			r.Error(Code(err), err.Error(), nil)
			return
		}

		infos, ok := resp.([]vector.Info)
		if !ok {
			r.Error("500", "invalid response type", nil)
			return
		}

		r.RespondJSON(&infos)
	}
}
