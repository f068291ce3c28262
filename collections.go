package ragblade

import (
	"context"
	"errors"
	"fmt"

	"github.com/flarexio/ragblade/chunker"
	"github.com/flarexio/ragblade/vector"
)

// Collections owns the lifecycle of the named collections and maps domains
// to them. It holds no notion of a current collection; callers carry their
// choice in a context.
type Collections struct {
	store      vector.Store
	names      CollectionsConfig
	dimensions int
	metric     vector.Metric
}

func NewCollections(store vector.Store, names CollectionsConfig, dimensions int, metric vector.Metric) *Collections {
	if metric == "" {
		metric = vector.MetricCosine
	}

	return &Collections{
		store:      store,
		names:      names,
		dimensions: dimensions,
		metric:     metric,
	}
}

// Resolve completes a partial reference: a missing name comes from the
// domain, missing dimensions and metric from the configured defaults. A
// name configured for one domain is never addressed under another.
func (c *Collections) Resolve(ref vector.CollectionRef) (vector.CollectionRef, error) {
	if ref.Name == "" {
		if ref.Domain == "" {
			return vector.CollectionRef{}, ErrCollectionNotSet
		}

		name, err := c.names.Name(Domain(ref.Domain))
		if err != nil {
			return vector.CollectionRef{}, err
		}

		ref.Name = name
	}

	if owner, ok := c.owner(ref.Name); ok {
		switch ref.Domain {
		case "":
			ref.Domain = string(owner)
		case string(owner):
		default:
			return vector.CollectionRef{}, fmt.Errorf("%w: %s belongs to %s, not %s",
				ErrDomainMismatch, ref.Name, owner, ref.Domain)
		}
	}

	if ref.Dimensions == 0 {
		ref.Dimensions = c.dimensions
	}

	if ref.Metric == "" {
		ref.Metric = c.metric
	}

	if err := ref.Validate(); err != nil {
		return vector.CollectionRef{}, err
	}

	return ref, nil
}

// owner reports the domain a collection name is configured for.
func (c *Collections) owner(name string) (Domain, bool) {
	for _, d := range []Domain{DomainPersonal, DomainProject, DomainTest} {
		if configured, err := c.names.Name(d); err == nil && configured == name {
			return d, true
		}
	}

	return "", false
}

// Ensure creates the collection if absent and verifies its schema
// otherwise. A schema difference fails with vector.ErrSchemaMismatch.
func (c *Collections) Ensure(ctx context.Context, name string, dimensions int, metric vector.Metric) (vector.CollectionRef, error) {
	ref, err := c.Resolve(vector.CollectionRef{
		Name:       name,
		Dimensions: dimensions,
		Metric:     metric,
	})
	if err != nil {
		return vector.CollectionRef{}, err
	}

	return ref, c.EnsureRef(ctx, ref)
}

func (c *Collections) EnsureRef(ctx context.Context, ref vector.CollectionRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	return c.store.EnsureCollection(ctx, ref)
}

// SwitchContext resolves the collection of a domain and returns a context
// that targets it.
func (c *Collections) SwitchContext(ctx context.Context, domain Domain) (context.Context, vector.CollectionRef, error) {
	ref, err := c.Resolve(vector.CollectionRef{Domain: string(domain)})
	if err != nil {
		return ctx, vector.CollectionRef{}, err
	}

	return WithCollection(ctx, ref), ref, nil
}

func WithCollection(ctx context.Context, ref vector.CollectionRef) context.Context {
	return context.WithValue(ctx, CollectionKey, ref)
}

// WithChunking overrides the configured chunking policy for ingests made
// with the returned context.
func WithChunking(ctx context.Context, policy chunker.Policy) context.Context {
	return context.WithValue(ctx, ChunkingKey, policy)
}

func CollectionFromContext(ctx context.Context) (vector.CollectionRef, bool) {
	ref, ok := ctx.Value(CollectionKey).(vector.CollectionRef)
	return ref, ok
}

// Recreate drops the collection when present and creates it anew with
// the given schema.
func (c *Collections) Recreate(ctx context.Context, ref vector.CollectionRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	if err := c.store.DropCollection(ctx, ref.Name); err != nil && !errors.Is(err, vector.ErrCollectionNotFound) {
		return fmt.Errorf("drop %s: %w", ref.Name, err)
	}

	return c.store.EnsureCollection(ctx, ref)
}

func (c *Collections) Drop(ctx context.Context, name string) error {
	return c.store.DropCollection(ctx, name)
}

func (c *Collections) List(ctx context.Context) ([]vector.Info, error) {
	names, err := c.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]vector.Info, 0, len(names))
	for _, name := range names {
		info, err := c.store.CollectionInfo(ctx, name)
		if err != nil {
			return nil, err
		}

		infos = append(infos, info)
	}

	return infos, nil
}

func (c *Collections) Info(ctx context.Context, name string) (vector.Info, error) {
	return c.store.CollectionInfo(ctx, name)
}
