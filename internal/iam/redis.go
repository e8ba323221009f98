package iam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const credentialPrefix = "iam:"

// RedisStore shares cached credentials between bot replicas. Entries expire
// together with the credential they hold.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed credential store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Load returns the cached credential for key
func (s *RedisStore) Load(ctx context.Context, key string) (*Credential, error) {
	data, err := s.client.Get(ctx, credentialPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting credential: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("unmarshaling credential: %w", err)
	}

	return &cred, nil
}

// Save replaces the cached credential for key
func (s *RedisStore) Save(ctx context.Context, key string, cred *Credential) error {
	ttl := time.Until(cred.ExpiresAt)
	if ttl <= 0 {
		return errors.New("credential has already expired")
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}

	if err := s.client.Set(ctx, credentialPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}

	return nil
}

// Delete forgets the cached credential for key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, credentialPrefix+key).Err(); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}
