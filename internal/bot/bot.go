// Package bot connects Telegram chats to speech recognition: it turns voice
// and audio messages into text replies and drives the per-chat OAuth login
// and folder selection.
package bot

import (
	"context"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/wrale/vmtt-bot/internal/iam"
	"github.com/wrale/vmtt-bot/internal/resourcemanager"
	"github.com/wrale/vmtt-bot/internal/session"
	"github.com/wrale/vmtt-bot/internal/stt"
	"github.com/wrale/vmtt-bot/internal/validation"
)

// API is the part of the Telegram Bot API the bot uses
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// CredentialResolver turns a chat's long-lived token into a bearer credential.
// An empty token selects the process-wide sources.
type CredentialResolver interface {
	Resolve(ctx context.Context, longLivedToken string) (*iam.Credential, error)
}

// Transcriber recognizes speech and always returns reply text
type Transcriber interface {
	Recognize(ctx context.Context, audio []byte, kind stt.AudioKind, cred *iam.Credential, folderID string) string
}

// FolderLister lists the folders a token can bill recognition to
type FolderLister interface {
	ListFolders(ctx context.Context, longLivedToken string) ([]resourcemanager.Folder, error)
}

// Sessions reads and changes per-chat authorization state
type Sessions interface {
	Get(ctx context.Context, chatID int64) (*session.Session, error)
	SelectFolder(ctx context.Context, chatID int64, folderID string) error
	Logout(ctx context.Context, chatID int64) error
}

// StateIssuer mints OAuth state values bound to a chat
type StateIssuer interface {
	Issue(ctx context.Context, chatID int64) (string, error)
}

// Authorizer builds OAuth authorization links
type Authorizer interface {
	Configured() bool
	AuthorizationURL(deviceID, deviceName, state string) (string, error)
}

// Config holds chat-facing limits and defaults
type Config struct {
	Allowlist       validation.Allowlist
	MaxDuration     time.Duration
	DefaultFolderID string
	// UpdateTimeout bounds the handling of one update
	UpdateTimeout time.Duration
}

// Dependencies are the collaborators a bot composes
type Dependencies struct {
	Credentials CredentialResolver
	Transcriber Transcriber
	Folders     FolderLister
	Sessions    Sessions
	States      StateIssuer
	OAuth       Authorizer
	// HTTPClient downloads files; http.DefaultClient when nil
	HTTPClient *http.Client
}

// Bot handles Telegram updates
type Bot struct {
	api  API
	deps Dependencies
	cfg  Config
	log  zerolog.Logger
	wg   sync.WaitGroup
}

// New creates a bot
func New(api API, deps Dependencies, cfg Config, log zerolog.Logger) *Bot {
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	if cfg.UpdateTimeout == 0 {
		cfg.UpdateTimeout = 2 * time.Minute
	}
	return &Bot{
		api:  api,
		deps: deps,
		cfg:  cfg,
		log:  log.With().Str("component", "bot").Logger(),
	}
}

// Run handles updates until ctx is done or the channel closes, then waits
// for in-flight updates. Updates are handled concurrently and are not
// cancelled with ctx; each is bounded by Config.UpdateTimeout instead.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	defer b.wg.Wait()
	handleCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(handleCtx, upd)
			}()
		}
	}
}

// HandleUpdate dispatches a single update
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.UpdateTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Int("update_id", upd.UpdateID).Msg("update handler panicked")
		}
	}()

	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.Chat != nil:
		msg := upd.Message
		switch {
		case msg.IsCommand():
			b.handleCommand(ctx, msg)
		case msg.Voice != nil || msg.Audio != nil:
			b.handleAudio(ctx, msg)
		}
	}
}

// reply answers msg in its chat
func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	b.send(out)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Error().Err(err).Msg("sending message")
	}
}
