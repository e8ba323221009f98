// Package oauthstate issues the OAuth `state` parameter. A state is signed,
// bound to the chat that started the flow and redeemable once.
package oauthstate

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidState indicates a missing, forged or already used state
	ErrInvalidState = errors.New("invalid oauth state")

	// ErrStateExpired indicates the state outlived its expiry
	ErrStateExpired = errors.New("oauth state expired")
)

// Store provides state storage operations
type Store interface {
	// Save stores a state with expiry
	Save(ctx context.Context, state string, expiresIn time.Duration) error

	// Consume removes a state, failing if it was not present
	Consume(ctx context.Context, state string) error

	// CheckHealth verifies the store is operational
	CheckHealth(ctx context.Context) error
}

// Manager handles state generation and redemption
type Manager struct {
	store     Store
	secret    []byte
	expiresIn time.Duration
}

// NewManager creates a new state manager
func NewManager(store Store, secret []byte, expiresIn time.Duration) *Manager {
	return &Manager{
		store:     store,
		secret:    secret,
		expiresIn: expiresIn,
	}
}

// Issue creates and stores a state for chatID
func (m *Manager) Issue(ctx context.Context, chatID int64) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	payload := strconv.FormatInt(chatID, 10) + ":" + base64.RawURLEncoding.EncodeToString(nonce)
	state := base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." +
		base64.RawURLEncoding.EncodeToString(m.sign(payload))

	if err := m.store.Save(ctx, state, m.expiresIn); err != nil {
		return "", fmt.Errorf("saving state: %w", err)
	}

	return state, nil
}

// Consume verifies a state, invalidates it and returns the chat it was
// issued for
func (m *Manager) Consume(ctx context.Context, state string) (int64, error) {
	encPayload, encSig, ok := strings.Cut(state, ".")
	if !ok || encPayload == "" {
		return 0, ErrInvalidState
	}

	payload, err := base64.RawURLEncoding.DecodeString(encPayload)
	if err != nil {
		return 0, ErrInvalidState
	}
	sig, err := base64.RawURLEncoding.DecodeString(encSig)
	if err != nil {
		return 0, ErrInvalidState
	}
	if !hmac.Equal(m.sign(string(payload)), sig) {
		return 0, ErrInvalidState
	}

	chatPart, _, _ := strings.Cut(string(payload), ":")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidState
	}

	if err := m.store.Consume(ctx, state); err != nil {
		return 0, fmt.Errorf("consuming state: %w", err)
	}

	return chatID, nil
}

// CheckHealth verifies the state manager is operational
func (m *Manager) CheckHealth(ctx context.Context) error {
	if err := m.store.CheckHealth(ctx); err != nil {
		return fmt.Errorf("state store health check failed: %w", err)
	}
	return nil
}

func (m *Manager) sign(payload string) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(payload))
	return h.Sum(nil)
}
