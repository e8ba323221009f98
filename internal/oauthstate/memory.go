package oauthstate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps states in process memory
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]time.Time
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory state store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]time.Time), now: time.Now}
}

// Save stores a state with expiry
func (m *MemoryStore) Save(ctx context.Context, state string, expiresIn time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// drop expired entries so abandoned flows do not accumulate
	now := m.now()
	for s, exp := range m.states {
		if now.After(exp) {
			delete(m.states, s)
		}
	}

	m.states[state] = now.Add(expiresIn)
	return nil
}

// Consume removes a state, failing if it is unknown or expired
func (m *MemoryStore) Consume(ctx context.Context, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.states[state]
	if !ok {
		return ErrStateExpired
	}
	delete(m.states, state)

	if m.now().After(exp) {
		return ErrStateExpired
	}
	return nil
}

// CheckHealth always succeeds
func (m *MemoryStore) CheckHealth(ctx context.Context) error {
	return nil
}
