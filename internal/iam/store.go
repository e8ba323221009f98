package iam

import (
	"context"
	"sync"
)

// MemoryStore keeps credentials in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credential)}
}

// Load returns the cached credential for key
func (s *MemoryStore) Load(ctx context.Context, key string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds[key], nil
}

// Save replaces the cached credential for key
func (s *MemoryStore) Save(ctx context.Context, key string, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[key] = cred
	return nil
}

// Delete forgets the cached credential for key
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, key)
	return nil
}
