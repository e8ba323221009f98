package oauthstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const statePrefix = "oauthstate:"

// RedisStore implements the Store interface using Redis
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a new Redis-backed state store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Save stores a state with expiration
func (s *RedisStore) Save(ctx context.Context, state string, expiresIn time.Duration) error {
	if state == "" {
		return errors.New("empty state")
	}

	if err := s.client.Set(ctx, statePrefix+state, "1", expiresIn).Err(); err != nil {
		return fmt.Errorf("storing state: %w", err)
	}

	return nil
}

// Consume atomically removes a state. An expired state is gone from Redis
// and reported as expired.
func (s *RedisStore) Consume(ctx context.Context, state string) error {
	if state == "" {
		return ErrInvalidState
	}

	err := s.client.GetDel(ctx, statePrefix+state).Err()
	if errors.Is(err, redis.Nil) {
		return ErrStateExpired
	}
	if err != nil {
		return fmt.Errorf("consuming state: %w", err)
	}

	return nil
}

// CheckHealth verifies Redis connectivity
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
