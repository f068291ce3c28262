package nats

import (
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/ragblade"
)

const (
	TopicIngest             = "ingest"
	TopicRetrieve           = "retrieve"
	TopicEnsureCollection   = "ensure_collection"
	TopicRecreateCollection = "recreate_collection"
	TopicDropCollection     = "drop_collection"
	TopicListCollections    = "list_collections"
)

func AddEndpoints(group micro.Group, endpoints *ragblade.EndpointSet) error {
	handlers := []struct {
		name    string
		handler micro.HandlerFunc
	}{
		{TopicIngest, IngestHandler(endpoints.Ingest)},
		{TopicRetrieve, RetrieveHandler(endpoints.Retrieve)},
		{TopicEnsureCollection, CollectionHandler(endpoints.EnsureCollection)},
		{TopicRecreateCollection, CollectionHandler(endpoints.RecreateCollection)},
		{TopicDropCollection, CollectionHandler(endpoints.DropCollection)},
		{TopicListCollections, ListCollectionsHandler(endpoints.ListCollections)},
	}

	for _, h := range handlers {
		if err := group.AddEndpoint(h.name, h.handler); err != nil {
			return err
		}
	}

	return nil
}
