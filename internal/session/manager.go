package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotAuthorized indicates the chat has no long-lived token
var ErrNotAuthorized = errors.New("chat is not authorized")

// Revoker invalidates a long-lived token remotely
type Revoker interface {
	Revoke(ctx context.Context, token string) error
}

// CredentialCache drops credentials minted from a long-lived token
type CredentialCache interface {
	Forget(ctx context.Context, longLivedToken string) error
}

// Manager applies authorization changes to chat sessions
type Manager struct {
	store   Store
	revoker Revoker
	creds   CredentialCache
	log     zerolog.Logger
	now     func() time.Time
}

// NewManager creates a session manager
func NewManager(store Store, revoker Revoker, creds CredentialCache, log zerolog.Logger) *Manager {
	return &Manager{
		store:   store,
		revoker: revoker,
		creds:   creds,
		log:     log,
		now:     time.Now,
	}
}

// Get returns the session of a chat, or nil if there is none
func (m *Manager) Get(ctx context.Context, chatID int64) (*Session, error) {
	return m.store.Get(ctx, chatID)
}

// Authorize stores the long-lived token obtained for a chat. A different
// token already held by the chat is released and the folder selection
// cleared.
func (m *Manager) Authorize(ctx context.Context, chatID int64, token string) (*Session, error) {
	sess, err := m.store.Get(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess == nil {
		sess = &Session{ChatID: chatID}
	}

	if sess.OAuthToken != "" && sess.OAuthToken != token {
		m.release(ctx, m.log.With().Int64("chat_id", chatID).Logger(), sess.OAuthToken)
		sess.FolderID = ""
	}
	sess.OAuthToken = token
	sess.UpdatedAt = m.now().UTC()
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	return sess, nil
}

// SelectFolder records the folder recognition calls are attributed to
func (m *Manager) SelectFolder(ctx context.Context, chatID int64, folderID string) error {
	sess, err := m.store.Get(ctx, chatID)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if !sess.Authorized() {
		return ErrNotAuthorized
	}

	sess.FolderID = folderID
	sess.UpdatedAt = m.now().UTC()
	if err := m.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Logout revokes the chat's token on a best-effort basis and then forgets
// the session and its cached credential no matter how revocation went.
func (m *Manager) Logout(ctx context.Context, chatID int64) error {
	sess, err := m.store.Get(ctx, chatID)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if !sess.Authorized() {
		if err := m.store.Delete(ctx, chatID); err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		return nil
	}

	log := m.log.With().Int64("chat_id", chatID).Logger()
	m.release(ctx, log, sess.OAuthToken)

	if err := m.store.Delete(ctx, chatID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	log.Info().Msg("chat logged out")
	return nil
}

// release revokes token on a best-effort basis and forgets its cached
// credential no matter how revocation went
func (m *Manager) release(ctx context.Context, log zerolog.Logger, token string) {
	if err := m.revoker.Revoke(ctx, token); err != nil {
		log.Warn().Err(err).Msg("revoking token, forgetting it locally anyway")
	}
	if err := m.creds.Forget(ctx, token); err != nil {
		log.Warn().Err(err).Msg("forgetting cached credential")
	}
}
