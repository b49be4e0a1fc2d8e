package history

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process Store backed by go-cache. Expired records are
// removed by go-cache's janitor.
type MemoryStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewMemoryStore creates a store whose records expire after ttl.
//
// Parameters:
//   - ttl: How long each record is kept
//   - cleanupInterval: Interval at which expired records are purged
//
// Returns:
//   - A new MemoryStore
func NewMemoryStore(ttl, cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: cache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

// Save stores rec under its ID.
func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Set(recordKey(rec.ID), rec, s.ttl)
	return nil
}

// Get returns the record for id.
func (s *MemoryStore) Get(ctx context.Context, id uint32) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	val, found := s.cache.Get(recordKey(id))
	if !found {
		return Record{}, ErrNotFound
	}

	rec, ok := val.(Record)
	if !ok {
		return Record{}, ErrNotFound
	}

	return rec, nil
}

// Recent returns up to limit records, most recently finished first.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := s.cache.Items()
	records := make([]Record, 0, len(items))
	for key, item := range items {
		if !strings.HasPrefix(key, KeyPrefix) {
			continue
		}

		if rec, ok := item.Object.(Record); ok {
			records = append(records, rec)
		}
	}

	return newestFirst(records, limit), nil
}

// Count returns the number of stored records. Expired records that the
// janitor has not purged yet are included.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return s.cache.ItemCount(), nil
}

// Clear removes every record.
func (s *MemoryStore) Clear(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	deleted := 0
	for key := range s.cache.Items() {
		select {
		case <-ctx.Done():
			return deleted, ctx.Err()
		default:
		}

		if strings.HasPrefix(key, KeyPrefix) {
			s.cache.Delete(key)
			deleted++
		}
	}

	return deleted, nil
}

// LastID returns the highest stored lobby ID.
func (s *MemoryStore) LastID(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	items := s.cache.Items()
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}

	return maxID(keys), nil
}
