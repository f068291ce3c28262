package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/vector"
)

// DefaultTimeout bounds requests whose context has no deadline. Ingests
// of large documents take longer than the client default.
var DefaultTimeout = 5 * time.Minute

var ErrRemote = errors.New("remote service error")

func MakeEndpoints(nc *nats.Conn, prefix string) *ragblade.EndpointSet {
	return &ragblade.EndpointSet{
		Ingest:             IngestEndpoint(nc, prefix+"."+TopicIngest),
		Retrieve:           RetrieveEndpoint(nc, prefix+"."+TopicRetrieve),
		EnsureCollection:   CollectionEndpoint(nc, prefix+"."+TopicEnsureCollection),
		RecreateCollection: CollectionEndpoint(nc, prefix+"."+TopicRecreateCollection),
		DropCollection:     DropCollectionEndpoint(nc, prefix+"."+TopicDropCollection),
		ListCollections:    ListCollectionsEndpoint(nc, prefix+"."+TopicListCollections),
	}
}

func send(ctx context.Context, nc *nats.Conn, topic string, data []byte) (*nats.Msg, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	msg := nats.NewMsg(topic)
	msg.Data = data

	if id, ok := ctx.Value(ragblade.RequestID).(string); ok {
		msg.Header.Set(HeaderRequestID, id)
	}

	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, nats.ErrNoResponders) {
			return nil, vector.Transient("nats", err)
		}

		return nil, err
	}

	return resp, nil
}

func IngestEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(ragblade.IngestRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		data, err := json.Marshal(&req)
		if err != nil {
			return nil, err
		}

		resp, err := send(ctx, nc, topic, data)
		if err != nil {
			return ragblade.IngestReport{}, err
		}

		remoteErr := Error(resp)

		var report ragblade.IngestReport
		if len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, &report); err != nil && remoteErr == nil {
				return nil, err
			}
		}

		return report, remoteErr
	}
}

func RetrieveEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(ragblade.RetrieveRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		data, err := json.Marshal(&req)
		if err != nil {
			return nil, err
		}

		resp, err := send(ctx, nc, topic, data)
		if err != nil {
			return nil, err
		}

		if err := Error(resp); err != nil {
			return nil, err
		}

		var result ragblade.QueryResult
		if err := json.Unmarshal(resp.Data, &result); err != nil {
			return nil, err
		}

		return result, nil
	}
}

func CollectionEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(ragblade.CollectionRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		data, err := json.Marshal(&req)
		if err != nil {
			return nil, err
		}

		resp, err := send(ctx, nc, topic, data)
		if err != nil {
			return nil, err
		}

		if err := Error(resp); err != nil {
			return nil, err
		}

		var ref vector.CollectionRef
		if err := json.Unmarshal(resp.Data, &ref); err != nil {
			return nil, err
		}

		return ref, nil
	}
}

func DropCollectionEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(ragblade.CollectionRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		data, err := json.Marshal(&req)
		if err != nil {
			return nil, err
		}

		resp, err := send(ctx, nc, topic, data)
		if err != nil {
			return nil, err
		}

		return nil, Error(resp)
	}
}

func ListCollectionsEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		resp, err := send(ctx, nc, topic, nil)
		if err != nil {
			return nil, err
		}

		if err := Error(resp); err != nil {
			return nil, err
		}

		var infos []vector.Info
		if err := json.Unmarshal(resp.Data, &infos); err != nil {
			return nil, err
		}

		return infos, nil
	}
}

// Error decodes the micro error headers of a response. Code 503 comes
// back as a transient error so callers may retry; 404 and 409 come back
// as the store errors they were raised from.
func Error(msg *nats.Msg) error {
	if msg == nil {
		return errors.New("nil message")
	}

	code := msg.Header.Get(micro.ErrorCodeHeader)
	if code == "" {
		return nil
	}

	description := msg.Header.Get(micro.ErrorHeader)
	if description == "" {
		description = "unknown error"
	}

	err := fmt.Errorf("%w: %s: %s", ErrRemote, code, description)

	switch code {
	case "503":
		return vector.Transient("nats", err)

	case "404":
		return vector.Fatal("nats", fmt.Errorf("%w: %w", vector.ErrCollectionNotFound, err))

	case "409":
		return vector.Fatal("nats", fmt.Errorf("%w: %w", vector.ErrSchemaMismatch, err))

	default:
		return err
	}
}
