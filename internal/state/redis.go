package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists records in Redis for multi-node deployments. Keys are
// namespaced under a prefix; Get falls back to the bare id so records written
// before the prefix was introduced stay readable.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the given redis:// URL.
func NewRedisStore(url, keyPrefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse remote state URL: %w", err)
	}
	return &RedisStore{
		client: redis.NewClient(opts),
		prefix: strings.TrimRight(keyPrefix, ":"),
	}, nil
}

func (s *RedisStore) key(id string) string {
	if s.prefix == "" {
		return id
	}
	return s.prefix + ":" + id
}

// Get loads and decodes the record for id.
func (s *RedisStore) Get(ctx context.Context, id string) (*StoredResponse, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) && s.prefix != "" {
		raw, err = s.client.Get(ctx, id).Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state get %s: %w", id, err)
	}

	record := &StoredResponse{}
	if err := json.Unmarshal([]byte(raw), record); err != nil {
		return nil, fmt.Errorf("decode stored response %s: %w", id, err)
	}
	return record, nil
}

// Set encodes and stores the record, with SETEX when a TTL is given.
func (s *RedisStore) Set(ctx context.Context, id string, record *StoredResponse, ttlSeconds int) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode stored response %s: %w", id, err)
	}
	if ttlSeconds > 0 {
		err = s.client.SetEx(ctx, s.key(id), data, time.Duration(ttlSeconds)*time.Second).Err()
	} else {
		err = s.client.Set(ctx, s.key(id), data, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("state set %s: %w", id, err)
	}
	return nil
}

// Delete removes the prefixed key, then the bare one, and reports whether
// either existed.
func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("state delete %s: %w", id, err)
	}
	if deleted == 0 && s.prefix != "" {
		deleted, err = s.client.Del(ctx, id).Result()
		if err != nil {
			return false, fmt.Errorf("state delete %s: %w", id, err)
		}
	}
	return deleted > 0, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
