// Package session keeps the per-chat authorization state: the long-lived
// OAuth token and the folder recognition is billed to.
package session

import (
	"context"
	"time"
)

// Session is the authorization state of one chat
type Session struct {
	ChatID     int64     `json:"chat_id"`
	OAuthToken string    `json:"oauth_token,omitempty"`
	FolderID   string    `json:"folder_id,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Authorized reports whether the chat completed the OAuth flow
func (s *Session) Authorized() bool {
	return s != nil && s.OAuthToken != ""
}

// Store defines the interface for session storage
type Store interface {
	// Get returns the session of a chat, or nil if there is none
	Get(ctx context.Context, chatID int64) (*Session, error)

	// Save stores a session, replacing any previous one
	Save(ctx context.Context, s *Session) error

	// Delete removes the session of a chat
	Delete(ctx context.Context, chatID int64) error

	// CheckHealth verifies the storage backend is healthy
	CheckHealth(ctx context.Context) error
}
