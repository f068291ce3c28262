package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flarexio/ragblade/embedding"
)

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
	model        TEXT    NOT NULL,
	content_hash TEXT    NOT NULL,
	dimensions   INTEGER NOT NULL,
	vector       BLOB    NOT NULL,
	created_at   INTEGER NOT NULL,
	accessed_at  INTEGER NOT NULL,
	PRIMARY KEY (model, content_hash)
);

CREATE INDEX IF NOT EXISTS idx_embeddings_accessed_at ON embeddings (accessed_at);
`

type cacheStore struct {
	db   *sql.DB
	path string
}

// NewCacheStore opens the embedding cache database at path, creating it
// when missing. Entries survive process restarts.
func NewCacheStore(path string) (embedding.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	return &cacheStore{
		db:   db,
		path: path,
	}, nil
}

func (s *cacheStore) Get(ctx context.Context, key embedding.Key) (embedding.Record, bool, error) {
	var (
		dims      int
		blob      []byte
		createdAt int64
	)

	row := s.db.QueryRowContext(ctx,
		`SELECT dimensions, vector, created_at FROM embeddings WHERE model = ? AND content_hash = ?`,
		key.Model, key.ContentHash,
	)

	err := row.Scan(&dims, &blob, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return embedding.Record{}, false, nil
	}

	if err != nil {
		return embedding.Record{}, false, fmt.Errorf("reading embedding: %w", err)
	}

	vec, err := embedding.DecodeVector(blob)
	if err != nil {
		return embedding.Record{}, false, err
	}

	if len(vec) != dims {
		return embedding.Record{}, false, embedding.ErrCorruptVector
	}

	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE embeddings SET accessed_at = ? WHERE model = ? AND content_hash = ?`,
		now.UnixNano(), key.Model, key.ContentHash,
	); err != nil {
		return embedding.Record{}, false, fmt.Errorf("touching embedding: %w", err)
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (model, content_hash, dimensions, vector, created_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (model, content_hash) DO UPDATE SET
			dimensions = excluded.dimensions,
			vector = excluded.vector,
			accessed_at = excluded.accessed_at`,
		record.Key.Model,
		record.Key.ContentHash,
		len(record.Vector),
		embedding.EncodeVector(record.Vector),
		createdAt.UnixNano(),
		accessedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("writing embedding: %w", err)
	}

	return nil
}

func (s *cacheStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE accessed_at < ?`,
		olderThan.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning embeddings: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(n), nil
}

func (s *cacheStore) Close() error {
	return s.db.Close()
}
