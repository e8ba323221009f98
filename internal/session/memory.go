package session

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process memory. Used when no Redis URL is
// configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]Session
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]Session)}
}

// Get returns a copy of the session of a chat
func (m *MemoryStore) Get(ctx context.Context, chatID int64) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[chatID]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// Save stores a copy of sess
func (m *MemoryStore) Save(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ChatID] = *sess
	return nil
}

// Delete removes the session of a chat
func (m *MemoryStore) Delete(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, chatID)
	return nil
}

// CheckHealth always succeeds
func (m *MemoryStore) CheckHealth(ctx context.Context) error {
	return nil
}
