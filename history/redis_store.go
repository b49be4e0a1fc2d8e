package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store shared by every server pointing at the same redis
// database. Records are stored as JSON with a per-key TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a redis-backed store.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := NewRedisStore(client, time.Hour)
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

// Save stores rec as JSON under its ID.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := s.client.Set(ctx, recordKey(rec.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}

	return nil
}

// Get returns the record for id.
func (s *RedisStore) Get(ctx context.Context, id uint32) (Record, error) {
	val, err := s.client.Get(ctx, recordKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("redis get error: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return rec, nil
}

// Recent returns up to limit records, most recently finished first.
func (s *RedisStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []Record{}, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget error: %w", err)
	}

	records := make([]Record, 0, len(vals))
	for _, v := range vals {
		// Keys expiring between SCAN and MGET come back as nil.
		str, ok := v.(string)
		if !ok {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, rec)
	}

	return newestFirst(records, limit), nil
}

// Count returns the number of stored records.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}

	return len(keys), nil
}

// Clear removes every record key. Other keys in the database are untouched.
func (s *RedisStore) Clear(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}

	return int(deleted), nil
}

// LastID returns the highest stored lobby ID.
func (s *RedisStore) LastID(ctx context.Context) (uint32, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}

	return maxID(keys), nil
}

// keys lists record keys using SCAN.
func (s *RedisStore) keys(ctx context.Context) ([]string, error) {
	var keys []string

	iter := s.client.Scan(ctx, 0, KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}

	return keys, nil
}
