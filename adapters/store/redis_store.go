package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/ports"
	"github.com/redis/go-redis/v9"
)

// RedisSessionStore is a Redis implementation of the SessionStore interface.
// The key expires together with the session.
type RedisSessionStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisSessionStore creates a session store; namespace separates clients
// sharing one Redis instance
func NewRedisSessionStore(client *redis.Client, namespace string, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = core.DefaultSessionTTL
	}
	key := "xcafe:" + core.SessionRecordKey
	if namespace != "" {
		key += ":" + namespace
	}
	return &RedisSessionStore{client: client, key: key, ttl: ttl}
}

var _ ports.SessionStore = (*RedisSessionStore)(nil)

// Load reads the session record from Redis
func (s *RedisSessionStore) Load(ctx context.Context) (*core.SessionRecord, error) {
	blob, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return decodeRecord(blob)
}

// Save overwrites the session record
func (s *RedisSessionStore) Save(ctx context.Context, record core.SessionRecord) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key, blob, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear removes the session record
func (s *RedisSessionStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
