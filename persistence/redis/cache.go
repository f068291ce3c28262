package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/flarexio/ragblade/embedding"
)

const DefaultPrefix = "ragblade:embedding"

type cacheStore struct {
	rdb    *goredis.Client
	prefix string
}

func NewCacheStore(ctx context.Context, cfg embedding.RedisCacheConfig) (embedding.Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address required")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewCacheStoreWithClient(rdb, cfg.Prefix), nil
}

func NewCacheStoreWithClient(rdb *goredis.Client, prefix string) embedding.Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &cacheStore{
		rdb:    rdb,
		prefix: prefix,
	}
}

func (s *cacheStore) recordKey(key embedding.Key) string {
	return s.prefix + ":" + key.Model + ":" + key.ContentHash
}

// accessIndex is a sorted set of record keys scored by last access time.
func (s *cacheStore) accessIndex() string {
	return s.prefix + ":accessed"
}

func (s *cacheStore) Get(ctx context.Context, key embedding.Key) (embedding.Record, bool, error) {
	rk := s.recordKey(key)

	fields, err := s.rdb.HGetAll(ctx, rk).Result()
	if err != nil {
		return embedding.Record{}, false, fmt.Errorf("redis hgetall: %w", err)
	}

	raw, ok := fields["vector"]
	if !ok {
		return embedding.Record{}, false, nil
	}

	vec, err := embedding.DecodeVector([]byte(raw))
	if err != nil {
		return embedding.Record{}, false, err
	}

	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)

	now := time.Now()
	if err := s.rdb.ZAdd(ctx, s.accessIndex(), goredis.Z{
		Score:  float64(now.Unix()),
		Member: rk,
	}).Err(); err != nil {
		return embedding.Record{}, false, fmt.Errorf("redis zadd: %w", err)
	}

	return embedding.Record{
		Key:        key,
		Vector:     vec,
		CreatedAt:  time.Unix(0, createdAt),
		AccessedAt: now,
	}, true, nil
}

func (s *cacheStore) Put(ctx context.Context, record embedding.Record) error {
	if err := record.Key.Validate(); err != nil {
		return err
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	accessedAt := record.AccessedAt
	if accessedAt.IsZero() {
		accessedAt = createdAt
	}

	rk := s.recordKey(record.Key)

	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, rk,
			"vector", embedding.EncodeVector(record.Vector),
			"created_at", createdAt.UnixNano(),
		)

		pipe.ZAdd(ctx, s.accessIndex(), goredis.Z{
			Score:  float64(accessedAt.Unix()),
			Member: rk,
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}

	return nil
}

func (s *cacheStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	max := "(" + strconv.FormatInt(olderThan.Unix(), 10)

	keys, err := s.rdb.ZRangeByScore(ctx, s.accessIndex(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zrangebyscore: %w", err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.accessIndex(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis prune: %w", err)
	}

	return len(keys), nil
}

func (s *cacheStore) Close() error {
	return s.rdb.Close()
}
