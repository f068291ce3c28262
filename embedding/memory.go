package embedding

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memoryStore struct {
	records map[Key]Record
	sync.Mutex
}

func NewMemoryStore() Store {
	return &memoryStore{
		records: make(map[Key]Record),
	}
}

func (s *memoryStore) Get(ctx context.Context, key Key) (Record, bool, error) {
	s.Lock()
	defer s.Unlock()

	record, ok := s.records[key]
	if !ok {
		return Record{}, false, nil
	}

	record.AccessedAt = time.Now()
	s.records[key] = record

	record.Vector = slices.Clone(record.Vector)
	return record, true, nil
}

func (s *memoryStore) Put(ctx context.Context, record Record) error {
	if err := record.Key.Validate(); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	record.Vector = slices.Clone(record.Vector)
	s.records[record.Key] = record
	return nil
}

func (s *memoryStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	s.Lock()
	defer s.Unlock()

	removed := 0
	for key, record := range s.records {
		if record.AccessedAt.Before(olderThan) {
			delete(s.records, key)
			removed++
		}
	}

	return removed, nil
}

func (s *memoryStore) Close() error {
	return nil
}
