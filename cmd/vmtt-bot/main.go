// Command vmtt-bot relays Telegram voice and audio messages to Yandex
// SpeechKit and replies with the recognized text.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/wrale/vmtt-bot/cmd/vmtt-bot/handlers/callback"
	"github.com/wrale/vmtt-bot/cmd/vmtt-bot/handlers/health"
	"github.com/wrale/vmtt-bot/internal/bot"
	"github.com/wrale/vmtt-bot/internal/iam"
	"github.com/wrale/vmtt-bot/internal/oauth"
	"github.com/wrale/vmtt-bot/internal/oauthstate"
	"github.com/wrale/vmtt-bot/internal/resourcemanager"
	"github.com/wrale/vmtt-bot/internal/session"
	"github.com/wrale/vmtt-bot/internal/stt"
	"github.com/wrale/vmtt-bot/internal/templates"
)

// Version is set by the build process
var Version = "dev"

// pollTimeout is the long-poll duration of getUpdates
const pollTimeout = 60

func main() {
	cfg, err := loadConfig(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("vmtt-bot stopped")
	}
}

// stores bundles the persistence backends
type stores struct {
	sessions    session.Store
	credentials iam.Store
	states      oauthstate.Store
	close       func() error
}

// newStores connects to redis when REDIS_URL is set and falls back to
// process memory otherwise
func newStores(ctx context.Context, cfg Config, log zerolog.Logger) (*stores, error) {
	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set, sessions are kept in memory and lost on restart")
		return &stores{
			sessions:    session.NewMemoryStore(),
			credentials: iam.NewMemoryStore(),
			states:      oauthstate.NewMemoryStore(),
			close:       func() error { return nil },
		}, nil
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing Redis URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &stores{
		sessions:    session.NewRedisStore(redisClient),
		credentials: iam.NewRedisStore(redisClient),
		states:      oauthstate.NewRedisStore(redisClient),
		close:       redisClient.Close,
	}, nil
}

// upstreams are the remote services the bot talks to
type upstreams struct {
	iamTokenURL        string
	resourceManagerURL string
	oauth              oauth.Endpoints
	telegramEndpoint   string
	openSTT            stt.StreamOpener
	// httpTransport, when set, carries every outbound HTTP call
	httpTransport http.RoundTripper
}

// app is the wired bot with its HTTP surface
type app struct {
	api    *tgbotapi.BotAPI
	bot    *bot.Bot
	server *server
	close  func()
}

func newApp(ctx context.Context, cfg Config, log zerolog.Logger, up upstreams) (*app, error) {
	st, err := newStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	closeStores := func() {
		if err := st.close(); err != nil {
			log.Error().Err(err).Msg("closing Redis connection")
		}
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout, Transport: up.httpTransport}

	provider := iam.NewProvider(append(cfg.iamOptions(),
		iam.WithHTTPClient(httpClient),
		iam.WithTokenURL(up.iamTokenURL),
		iam.WithStore(st.credentials),
		iam.WithLogger(log.With().Str("component", "iam").Logger()),
	)...)

	oauthClient := oauth.NewClient(oauth.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURI:  cfg.OAuthRedirectURI,
	}, oauth.WithHTTPClient(httpClient), oauth.WithEndpoints(up.oauth))

	sessions := session.NewManager(st.sessions, oauthClient, provider,
		log.With().Str("component", "session").Logger())
	states := oauthstate.NewManager(st.states, []byte(cfg.StateSecret), cfg.StateExpiry)
	folders := resourcemanager.NewClient(provider, up.resourceManagerURL, resourcemanager.WithHTTPClient(httpClient))

	finality, err := stt.ParseFinality(cfg.STTFinality)
	if err != nil {
		closeStores()
		return nil, err
	}
	recognizer := stt.NewRecognizer(up.openSTT,
		stt.WithFinality(finality),
		stt.WithTimeout(cfg.STTTimeout),
		stt.WithLogger(log.With().Str("component", "stt").Logger()),
	)

	api, err := tgbotapi.NewBotAPIWithClient(cfg.TelegramToken, up.telegramEndpoint,
		&http.Client{Timeout: (pollTimeout + 30) * time.Second, Transport: up.httpTransport})
	if err != nil {
		closeStores()
		return nil, fmt.Errorf("connecting to Telegram: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("authorized on Telegram")

	allowlist := cfg.allowlist()
	if allowlist.Empty() {
		log.Warn().Msg("PERMITTED_CHATS is empty and PERMIT_ALL_CHATS is off, every chat is refused")
	}

	b := bot.New(api, bot.Dependencies{
		Credentials: provider,
		Transcriber: recognizer,
		Folders:     folders,
		Sessions:    sessions,
		States:      states,
		OAuth:       oauthClient,
		HTTPClient:  httpClient,
	}, bot.Config{
		Allowlist:       allowlist,
		MaxDuration:     cfg.MaxVoiceDuration,
		DefaultFolderID: cfg.YCFolderID,
		UpdateTimeout:   cfg.STTTimeout + 30*time.Second,
	}, log)

	healthHandler := health.New(map[string]health.Checker{
		"sessions":    st.sessions,
		"oauth_state": states,
	}).WithVersion(Version)

	var callbackHandler http.Handler
	if cfg.OAuthEnabled() {
		tmpls, err := templates.LoadTemplates()
		if err != nil {
			closeStores()
			return nil, fmt.Errorf("loading templates: %w", err)
		}
		callbackHandler = callback.New(callback.Config{
			States:    states,
			Exchanger: oauthClient,
			Sessions:  sessions,
			Notifier:  b,
			Templates: tmpls,
			BotName:   api.Self.UserName,
			Logger:    log.With().Str("component", "callback").Logger(),
		})
	} else {
		log.Info().Msg("OAuth not configured, chats use the process credentials")
	}

	return &app{
		api:    api,
		bot:    b,
		server: newServer(cfg, log, healthHandler, callbackHandler),
		close:  closeStores,
	}, nil
}

func run(cfg Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tgbotapi.SetLogger(botLogger{log: log.With().Str("component", "telegram").Logger()}); err != nil {
		return fmt.Errorf("setting telegram logger: %w", err)
	}

	conn, err := stt.Dial(cfg.STTEndpoint)
	if err != nil {
		return err
	}
	defer conn.Close()

	a, err := newApp(ctx, cfg, log, upstreams{
		iamTokenURL:        iam.TokenURL,
		resourceManagerURL: resourcemanager.BaseURL,
		oauth:              oauth.YandexEndpoints,
		telegramEndpoint:   cfg.TelegramEndpoint,
		openSTT:            stt.NewOpener(conn),
	})
	if err != nil {
		return err
	}
	defer a.close()

	httpServer := a.server.httpServer()
	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		serverErrors <- httpServer.ListenAndServe()
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := a.api.GetUpdatesChan(u)
	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		a.bot.Run(ctx, updates)
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serving HTTP: %w", err)
		}
		stop()
	case <-ctx.Done():
		log.Info().Msg("starting shutdown")
	}

	a.api.StopReceivingUpdates()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutting down server")
		if err := httpServer.Close(); err != nil {
			log.Error().Err(err).Msg("closing server")
		}
	}

	select {
	case <-botDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("abandoning in-flight updates")
	}

	return runErr
}
