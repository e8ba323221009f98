// Package callback completes the OAuth authorization-code flow started by
// the /login command
package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/wrale/vmtt-bot/internal/oauth"
	"github.com/wrale/vmtt-bot/internal/oauthstate"
	"github.com/wrale/vmtt-bot/internal/session"
	"github.com/wrale/vmtt-bot/internal/templates"
)

// StateConsumer verifies a state and returns the chat it belongs to
type StateConsumer interface {
	Consume(ctx context.Context, state string) (int64, error)
}

// CodeExchanger trades an authorization code for a long-lived token
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*oauth.Token, error)
}

// Authorizer stores the token obtained for a chat
type Authorizer interface {
	Authorize(ctx context.Context, chatID int64, token string) (*session.Session, error)
}

// Notifier tells the chat the login completed
type Notifier interface {
	NotifyAuthorized(ctx context.Context, chatID int64) error
}

// Renderer renders the result pages
type Renderer interface {
	RenderComplete(w http.ResponseWriter, data templates.CompleteData) error
	RenderError(w http.ResponseWriter, data templates.ErrorData) error
}

// Handler processes the OAuth redirect
type Handler struct {
	states    StateConsumer
	exchanger CodeExchanger
	sessions  Authorizer
	notifier  Notifier
	templates Renderer
	botName   string
	log       zerolog.Logger
}

// Config contains handler dependencies
type Config struct {
	States    StateConsumer
	Exchanger CodeExchanger
	Sessions  Authorizer
	Notifier  Notifier
	Templates Renderer
	BotName   string
	Logger    zerolog.Logger
}

// New creates a callback handler
func New(cfg Config) *Handler {
	return &Handler{
		states:    cfg.States,
		exchanger: cfg.Exchanger,
		sessions:  cfg.Sessions,
		notifier:  cfg.Notifier,
		templates: cfg.Templates,
		botName:   cfg.BotName,
		log:       cfg.Logger,
	}
}

// ServeHTTP handles GET /oauth/callback?code=...&state=...
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if denied := q.Get("error"); denied != "" {
		h.log.Info().Str("error", denied).Str("description", q.Get("error_description")).Msg("authorization declined")
		h.renderError(w, http.StatusBadRequest, "Доступ не предоставлен.")
		return
	}

	state := q.Get("state")
	code := q.Get("code")
	if state == "" || code == "" {
		h.renderError(w, http.StatusBadRequest, "В ссылке нет кода авторизации.")
		return
	}

	chatID, err := h.states.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, oauthstate.ErrInvalidState) || errors.Is(err, oauthstate.ErrStateExpired) {
			h.log.Warn().Err(err).Msg("rejecting oauth callback")
			h.renderError(w, http.StatusBadRequest, "Ссылка для входа устарела или уже использована.")
			return
		}
		h.log.Error().Err(err).Msg("consuming oauth state")
		h.renderError(w, http.StatusInternalServerError, "Не удалось проверить ссылку для входа.")
		return
	}
	log := h.log.With().Int64("chat_id", chatID).Logger()

	token, err := h.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		log.Error().Err(err).Msg("exchanging authorization code")
		var exErr *oauth.ExchangeError
		if errors.As(err, &exErr) && exErr.StatusCode >= http.StatusBadRequest && exErr.StatusCode < http.StatusInternalServerError {
			h.renderError(w, http.StatusBadRequest, fmt.Sprintf("Яндекс отклонил код авторизации: %s", exErr.Code))
			return
		}
		h.renderError(w, http.StatusBadGateway, "Не удалось получить токен от Яндекса.")
		return
	}

	if _, err := h.sessions.Authorize(ctx, chatID, token.AccessToken); err != nil {
		log.Error().Err(err).Msg("saving session")
		h.renderError(w, http.StatusInternalServerError, "Не удалось сохранить авторизацию.")
		return
	}
	log.Info().Msg("chat authorized")

	if err := h.notifier.NotifyAuthorized(ctx, chatID); err != nil {
		log.Warn().Err(err).Msg("notifying chat")
	}

	if err := h.templates.RenderComplete(w, templates.CompleteData{BotName: h.botName}); err != nil {
		log.Error().Err(err).Msg("rendering completion page")
		http.Error(w, "Авторизация прошла успешно", http.StatusOK)
	}
}

func (h *Handler) renderError(w http.ResponseWriter, status int, message string) {
	if err := h.templates.RenderError(w, templates.ErrorData{Message: message, Status: status}); err != nil {
		h.log.Error().Err(err).Msg("rendering error page")
		http.Error(w, message, status)
	}
}
