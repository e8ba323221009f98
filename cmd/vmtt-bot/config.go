package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/wrale/vmtt-bot/internal/iam"
	"github.com/wrale/vmtt-bot/internal/stt"
	"github.com/wrale/vmtt-bot/internal/validation"
)

// defaultCallbackPath serves the OAuth redirect when the redirect URI has no path
const defaultCallbackPath = "/oauth/callback"

// Config holds bot configuration loaded from environment variables
type Config struct {
	TelegramToken    string `envconfig:"TELEGRAM_TOKEN" required:"true"`
	TelegramEndpoint string `envconfig:"TELEGRAM_API_ENDPOINT"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"debug"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`

	YCOAuthToken     string        `envconfig:"YC_OAUTH_TOKEN"`
	YCFolderID       string        `envconfig:"YC_FOLDER_ID"`
	PermittedChats   []int64       `envconfig:"PERMITTED_CHATS"`
	PermitAllChats   bool          `envconfig:"PERMIT_ALL_CHATS"`
	MaxVoiceDuration time.Duration `envconfig:"MAX_VOICE_DURATION" default:"30s"`

	OAuthClientID     string        `envconfig:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string        `envconfig:"OAUTH_CLIENT_SECRET"`
	OAuthRedirectURI  string        `envconfig:"OAUTH_REDIRECT_URI"`
	StateSecret       string        `envconfig:"STATE_SECRET"`
	StateExpiry       time.Duration `envconfig:"STATE_EXPIRY" default:"15m"`

	RedisURL string `envconfig:"REDIS_URL"`

	Port            int           `envconfig:"HTTP_PORT" default:"8080"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	STTEndpoint     string        `envconfig:"STT_ENDPOINT" default:"stt.api.cloud.yandex.net:443"`
	STTFinality     string        `envconfig:"STT_FINALITY" default:"final"`
	STTTimeout      time.Duration `envconfig:"STT_TIMEOUT" default:"60s"`
	IAMSafetyMargin time.Duration `envconfig:"IAM_SAFETY_MARGIN" default:"60s"`
}

// loadConfig reads envFile, when it exists, and then the environment.
// Variables already set in the environment win over the file.
func loadConfig(envFile string) (Config, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	if cfg.TelegramEndpoint == "" {
		cfg.TelegramEndpoint = tgbotapi.APIEndpoint
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// OAuthEnabled reports whether per-chat login is configured
func (c Config) OAuthEnabled() bool {
	return c.OAuthClientID != "" && c.OAuthClientSecret != ""
}

// Validate checks settings that depend on each other
func (c Config) Validate() error {
	if _, err := stt.ParseFinality(c.STTFinality); err != nil {
		return fmt.Errorf("STT_FINALITY: %w", err)
	}
	if c.IAMSafetyMargin < 0 {
		return errors.New("IAM_SAFETY_MARGIN must not be negative")
	}
	if c.YCFolderID != "" {
		if err := validation.ValidateFolderID(c.YCFolderID); err != nil {
			return fmt.Errorf("YC_FOLDER_ID: %w", err)
		}
	}
	if !c.OAuthEnabled() {
		return nil
	}
	if c.OAuthRedirectURI == "" {
		return errors.New("OAUTH_REDIRECT_URI is required when OAuth is configured")
	}
	if _, err := url.ParseRequestURI(c.OAuthRedirectURI); err != nil {
		return fmt.Errorf("OAUTH_REDIRECT_URI: %w", err)
	}
	if len(c.StateSecret) < 16 {
		return errors.New("STATE_SECRET of at least 16 bytes is required when OAuth is configured")
	}
	return nil
}

// CallbackPath is the local path of the OAuth redirect URI
func (c Config) CallbackPath() string {
	u, err := url.Parse(c.OAuthRedirectURI)
	if err != nil || u.Path == "" || u.Path == "/" {
		return defaultCallbackPath
	}
	return u.Path
}

// newLogger builds the root logger from LOG_LEVEL and LOG_FORMAT
func newLogger(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if strings.EqualFold(cfg.LogFormat, "json") {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return log.Level(level).With().Timestamp().Str("service", "vmtt-bot").Logger()
}

// botLogger routes the Telegram client's own logging into zerolog
type botLogger struct {
	log zerolog.Logger
}

func (l botLogger) Println(v ...interface{}) {
	l.log.Debug().Msg(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.log.Debug().Msgf(format, v...)
}

// compile-time check against the Telegram client's logger interface
var _ tgbotapi.BotLogger = botLogger{}

// allowlist returns the chats the bot serves. Without PERMIT_ALL_CHATS only
// the chats in PERMITTED_CHATS are served.
func (c Config) allowlist() validation.Allowlist {
	if c.PermitAllChats {
		return validation.AllChats()
	}
	return validation.NewAllowlist(c.PermittedChats)
}

// iamOptions maps configuration onto credential provider options
func (c Config) iamOptions() []iam.Option {
	opts := []iam.Option{iam.WithSafetyMargin(c.IAMSafetyMargin)}
	if c.YCOAuthToken != "" {
		opts = append(opts, iam.WithStaticToken(c.YCOAuthToken))
	}
	return opts
}
