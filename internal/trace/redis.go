package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces trace keys in Redis.
const DefaultKeyPrefix = "openbridge:trace"

// RedisStore keeps traces in Redis: the record under a request-id key and the
// request id under a response-id key, both with the same TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the given redis:// URL.
func NewRedisStore(url, keyPrefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse trace store URL: %w", err)
	}
	return &RedisStore{
		client: redis.NewClient(opts),
		prefix: strings.TrimRight(keyPrefix, ":"),
	}, nil
}

func (s *RedisStore) requestKey(requestID string) string {
	return s.prefix + ":req:" + requestID
}

func (s *RedisStore) responseKey(responseID string) string {
	return s.prefix + ":resp:" + responseID
}

// GetByRequestID loads and decodes the record for a request id.
func (s *RedisStore) GetByRequestID(ctx context.Context, requestID string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.requestKey(requestID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("trace get %s: %w", requestID, err)
	}
	record := &Record{}
	if err := json.Unmarshal([]byte(raw), record); err != nil {
		return nil, fmt.Errorf("decode trace %s: %w", requestID, err)
	}
	return record, nil
}

// GetByResponseID resolves the response-id key, then the record.
func (s *RedisStore) GetByResponseID(ctx context.Context, responseID string) (*Record, error) {
	requestID, err := s.client.Get(ctx, s.responseKey(responseID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("trace index get %s: %w", responseID, err)
	}
	return s.GetByRequestID(ctx, requestID)
}

// Set writes the record and, when a response id is known, the index key.
func (s *RedisStore) Set(ctx context.Context, record *Record, ttlSeconds int) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode trace %s: %w", record.RequestID, err)
	}

	ttl := time.Duration(ttlSeconds) * time.Second
	if err := s.set(ctx, s.requestKey(record.RequestID), string(data), ttl); err != nil {
		return fmt.Errorf("trace set %s: %w", record.RequestID, err)
	}
	if record.ResponseID != "" {
		if err := s.set(ctx, s.responseKey(record.ResponseID), record.RequestID, ttl); err != nil {
			return fmt.Errorf("trace index set %s: %w", record.ResponseID, err)
		}
	}
	return nil
}

func (s *RedisStore) set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl > 0 {
		return s.client.SetEx(ctx, key, value, ttl).Err()
	}
	return s.client.Set(ctx, key, value, 0).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
