package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed Store for multi-instance deployments.
// Expiry is delegated to Redis key TTLs, so Sweep is a no-op.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "ipu_session:",
	}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

// Put inserts or overwrites an entry with expiry now+ttl.
func (s *RedisStore) Put(ctx context.Context, token, cookie string, ttl time.Duration) error {
	if token == "" {
		return errdefs.ErrInvalidArgument
	}
	if ttl <= 0 {
		return fmt.Errorf("session: ttl must be positive, got %v", ttl)
	}

	entry := Entry{
		Token:     token,
		Cookie:    cookie,
		ExpiresAt: time.Now().Add(ttl),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("session: marshal entry: %w", err)
	}

	if err := s.client.Set(ctx, s.key(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

// Get returns the replay cookie for a live token.
func (s *RedisStore) Get(ctx context.Context, token string) (string, error) {
	val, err := s.client.Get(ctx, s.key(token)).Result()
	if err == redis.Nil {
		return "", errdefs.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session: redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return "", fmt.Errorf("session: unmarshal entry: %w", err)
	}
	return entry.Cookie, nil
}

// Delete removes an entry if present.
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}

// Sweep is a no-op: Redis expires keys natively.
func (s *RedisStore) Sweep(_ context.Context) (int, error) {
	return 0, nil
}
