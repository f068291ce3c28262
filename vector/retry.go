package vector

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

type RetryConfig struct {
	MaxTries        int           `yaml:"maxTries"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxTries <= 0 {
		cfg.MaxTries = 4
	}

	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}

	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	return cfg
}

// RetryMiddleware retries transient failures with bounded exponential
// backoff. Fatal failures are returned on the first attempt.
func RetryMiddleware(cfg RetryConfig) StoreMiddleware {
	cfg = cfg.withDefaults()

	return func(next Store) Store {
		return &retryMiddleware{
			cfg:  cfg,
			log:  zap.L().With(zap.String("component", "vector_retry")),
			next: next,
		}
	}
}

type retryMiddleware struct {
	cfg  RetryConfig
	log  *zap.Logger
	next Store
}

func retry[T any](ctx context.Context, mw *retryMiddleware, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = mw.cfg.InitialInterval
	b.MaxInterval = mw.cfg.MaxInterval

	operation := func() (T, error) {
		result, err := fn()
		if err != nil && !IsTransient(err) {
			return result, backoff.Permanent(err)
		}

		return result, err
	}

	notify := func(err error, next time.Duration) {
		mw.log.Warn("retrying transient failure",
			zap.String("op", op),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(mw.cfg.MaxTries)),
		backoff.WithNotify(notify),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}

	return result, err
}

func (mw *retryMiddleware) EnsureCollection(ctx context.Context, ref CollectionRef) error {
	_, err := retry(ctx, mw, "ensure_collection", func() (struct{}, error) {
		return struct{}{}, mw.next.EnsureCollection(ctx, ref)
	})
	return err
}

func (mw *retryMiddleware) DropCollection(ctx context.Context, name string) error {
	_, err := retry(ctx, mw, "drop_collection", func() (struct{}, error) {
		return struct{}{}, mw.next.DropCollection(ctx, name)
	})
	return err
}

func (mw *retryMiddleware) ListCollections(ctx context.Context) ([]string, error) {
	return retry(ctx, mw, "list_collections", func() ([]string, error) {
		return mw.next.ListCollections(ctx)
	})
}

func (mw *retryMiddleware) CollectionInfo(ctx context.Context, name string) (Info, error) {
	return retry(ctx, mw, "collection_info", func() (Info, error) {
		return mw.next.CollectionInfo(ctx, name)
	})
}

func (mw *retryMiddleware) Upsert(ctx context.Context, collection string, points []Point) error {
	_, err := retry(ctx, mw, "upsert", func() (struct{}, error) {
		return struct{}{}, mw.next.Upsert(ctx, collection, points)
	})
	return err
}

func (mw *retryMiddleware) Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error) {
	return retry(ctx, mw, "search", func() ([]ScoredPoint, error) {
		return mw.next.Search(ctx, collection, req)
	})
}

func (mw *retryMiddleware) Close() error {
	return mw.next.Close()
}
