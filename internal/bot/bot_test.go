package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/wrale/vmtt-bot/internal/iam"
	"github.com/wrale/vmtt-bot/internal/oauth"
	"github.com/wrale/vmtt-bot/internal/oauthstate"
	"github.com/wrale/vmtt-bot/internal/resourcemanager"
	"github.com/wrale/vmtt-bot/internal/session"
	"github.com/wrale/vmtt-bot/internal/stt"
	"github.com/wrale/vmtt-bot/internal/validation"
)

const (
	testChat   int64 = 42
	testFolder       = "b1gdefaultfolder0000"
	userFolder       = "b1guserfolder0000000"
)

// fakeAPI records everything the bot sends
type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	fileURL  string
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	return f.fileURL + "/" + fileID, nil
}

// texts returns the text of every sent message
func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeAPI) lastMessage(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if m, ok := f.sent[i].(tgbotapi.MessageConfig); ok {
			return m
		}
	}
	t.Fatal("no message sent")
	return tgbotapi.MessageConfig{}
}

type fakeResolver struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (r *fakeResolver) Resolve(ctx context.Context, longLivedToken string) (*iam.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, longLivedToken)
	if r.err != nil {
		return nil, r.err
	}
	return &iam.Credential{Token: "iam-" + longLivedToken, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type recognizeCall struct {
	Audio    string
	Kind     stt.AudioKind
	Token    string
	FolderID string
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls []recognizeCall
	text  string
}

func (f *fakeTranscriber) Recognize(ctx context.Context, audio []byte, kind stt.AudioKind, cred *iam.Credential, folderID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recognizeCall{Audio: string(audio), Kind: kind, Token: cred.Token, FolderID: folderID})
	return f.text
}

type fakeFolders struct {
	folders []resourcemanager.Folder
	err     error
}

func (f *fakeFolders) ListFolders(ctx context.Context, longLivedToken string) ([]resourcemanager.Folder, error) {
	return f.folders, f.err
}

type nopRevoker struct{}

func (nopRevoker) Revoke(ctx context.Context, token string) error { return nil }

type testEnv struct {
	bot         *Bot
	api         *fakeAPI
	resolver    *fakeResolver
	transcriber *fakeTranscriber
	folders     *fakeFolders
	sessions    *session.Manager
	states      *oauthstate.Manager
}

func newTestEnv(t *testing.T, cfg Config, oauthCfg oauth.Config) *testEnv {
	t.Helper()

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "audio%s", r.URL.Path)
	}))
	t.Cleanup(files.Close)

	env := &testEnv{
		api:         &fakeAPI{fileURL: files.URL},
		resolver:    &fakeResolver{},
		transcriber: &fakeTranscriber{text: "привет мир"},
		folders: &fakeFolders{folders: []resourcemanager.Folder{
			{ID: testFolder, Label: "cloud - default"},
			{ID: userFolder, Label: "cloud - user"},
		}},
		states: oauthstate.NewManager(oauthstate.NewMemoryStore(), []byte("secret"), time.Minute),
	}
	env.sessions = session.NewManager(session.NewMemoryStore(), nopRevoker{}, iam.NewProvider(), zerolog.Nop())

	env.bot = New(env.api, Dependencies{
		Credentials: env.resolver,
		Transcriber: env.transcriber,
		Folders:     env.folders,
		Sessions:    env.sessions,
		States:      env.states,
		OAuth:       oauth.NewClient(oauthCfg),
		HTTPClient:  files.Client(),
	}, cfg, zerolog.Nop())
	return env
}

func defaultConfig() Config {
	return Config{
		Allowlist:       validation.NewAllowlist([]int64{testChat}),
		MaxDuration:     validation.DefaultMaxDuration,
		DefaultFolderID: testFolder,
	}
}

var testOAuth = oauth.Config{ClientID: "client", ClientSecret: "secret", RedirectURI: "https://bot.example/oauth/callback"}

func voiceUpdate(chatID int64, seconds int) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		Chat:      &tgbotapi.Chat{ID: chatID},
		Voice:     &tgbotapi.Voice{FileID: "voice-1", Duration: seconds},
	}}
}

func commandUpdate(chatID int64, command string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 9,
		Chat:      &tgbotapi.Chat{ID: chatID, Title: "team"},
		Text:      command,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command)}},
	}}
}

func TestHandleAudio(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		update     tgbotapi.Update
		setup      func(t *testing.T, env *testEnv)
		wantReply  string
		wantCalls  []recognizeCall
		wantTokens []string
	}{
		{
			name:      "voice with process credentials",
			cfg:       defaultConfig(),
			update:    voiceUpdate(testChat, 5),
			wantReply: "привет мир",
			wantCalls: []recognizeCall{
				{Audio: "audio/voice-1", Kind: stt.Voice, Token: "iam-", FolderID: testFolder},
			},
			wantTokens: []string{""},
		},
		{
			name: "audio file billed to the chat's folder",
			cfg:  defaultConfig(),
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				MessageID: 8,
				Chat:      &tgbotapi.Chat{ID: testChat},
				Audio:     &tgbotapi.Audio{FileID: "song", Duration: 10},
			}},
			setup: func(t *testing.T, env *testEnv) {
				ctx := context.Background()
				if _, err := env.sessions.Authorize(ctx, testChat, "oauth-token"); err != nil {
					t.Fatal(err)
				}
				if err := env.sessions.SelectFolder(ctx, testChat, userFolder); err != nil {
					t.Fatal(err)
				}
			},
			wantReply: "привет мир",
			wantCalls: []recognizeCall{
				{Audio: "audio/song", Kind: stt.Audio, Token: "iam-oauth-token", FolderID: userFolder},
			},
			wantTokens: []string{"oauth-token"},
		},
		{
			name:   "authorized chat without folder uses the default",
			cfg:    defaultConfig(),
			update: voiceUpdate(testChat, 1),
			setup: func(t *testing.T, env *testEnv) {
				if _, err := env.sessions.Authorize(context.Background(), testChat, "oauth-token"); err != nil {
					t.Fatal(err)
				}
			},
			wantReply: "привет мир",
			wantCalls: []recognizeCall{
				{Audio: "audio/voice-1", Kind: stt.Voice, Token: "iam-oauth-token", FolderID: testFolder},
			},
			wantTokens: []string{"oauth-token"},
		},
		{
			name: "chat not permitted",
			cfg: Config{
				Allowlist:   validation.NewAllowlist([]int64{1}),
				MaxDuration: validation.DefaultMaxDuration,
			},
			update:    voiceUpdate(testChat, 5),
			wantReply: "Чат с ID 42 не в списке разрешенных",
		},
		{
			name:      "voice too long",
			cfg:       defaultConfig(),
			update:    voiceUpdate(testChat, 31),
			wantReply: "Слишком длинное сообщение",
		},
		{
			name: "file too large",
			cfg:  defaultConfig(),
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				MessageID: 8,
				Chat:      &tgbotapi.Chat{ID: testChat},
				Voice:     &tgbotapi.Voice{FileID: "big", Duration: 1, FileSize: validation.MaxAudioSize + 1},
			}},
			wantReply: msgTooLarge,
		},
		{
			name:   "credential failure",
			cfg:    defaultConfig(),
			update: voiceUpdate(testChat, 5),
			setup: func(t *testing.T, env *testEnv) {
				env.resolver.err = &iam.FetchError{Source: iam.SourceMetadata, StatusCode: 404}
			},
			wantReply:  msgCredentialFailed,
			wantTokens: []string{""},
		},
		{
			name:   "nothing recognized",
			cfg:    defaultConfig(),
			update: voiceUpdate(testChat, 5),
			setup: func(t *testing.T, env *testEnv) {
				env.transcriber.text = " "
			},
			wantReply: msgNothingHeard,
			wantCalls: []recognizeCall{
				{Audio: "audio/voice-1", Kind: stt.Voice, Token: "iam-", FolderID: testFolder},
			},
			wantTokens: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.cfg, testOAuth)
			if tt.setup != nil {
				tt.setup(t, env)
			}

			env.bot.HandleUpdate(context.Background(), tt.update)

			if diff := cmp.Diff([]string{tt.wantReply}, env.api.texts()); diff != "" {
				t.Errorf("replies mismatch (-want +got):\n%s", diff)
			}
			if got := env.api.lastMessage(t).ReplyToMessageID; got != tt.update.Message.MessageID {
				t.Errorf("ReplyToMessageID = %d, want %d", got, tt.update.Message.MessageID)
			}
			if diff := cmp.Diff(tt.wantCalls, env.transcriber.calls); diff != "" {
				t.Errorf("recognize calls mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantTokens, env.resolver.tokens); diff != "" {
				t.Errorf("resolved tokens mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHelp(t *testing.T) {
	tests := []struct {
		name     string
		oauthCfg oauth.Config
		want     string
	}{
		{name: "without oauth", want: msgWelcome},
		{name: "with oauth", oauthCfg: testOAuth, want: msgWelcome + "\n\n" + msgCommands},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, defaultConfig(), tt.oauthCfg)
			env.bot.HandleUpdate(context.Background(), commandUpdate(testChat, "/start"))
			if diff := cmp.Diff([]string{tt.want}, env.api.texts()); diff != "" {
				t.Errorf("replies mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, defaultConfig(), testOAuth)
	env.bot.HandleUpdate(context.Background(), commandUpdate(testChat, "/login"))

	msg := env.api.lastMessage(t)
	if msg.Text != msgLoginPrompt {
		t.Errorf("Text = %q, want %q", msg.Text, msgLoginPrompt)
	}
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(markup.InlineKeyboard) != 1 || markup.InlineKeyboard[0][0].URL == nil {
		t.Fatalf("ReplyMarkup = %#v, want a single url button", msg.ReplyMarkup)
	}

	u, err := url.Parse(*markup.InlineKeyboard[0][0].URL)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if got := q.Get("device_id"); got != "vmtt-42" {
		t.Errorf("device_id = %q", got)
	}
	if got := q.Get("device_name"); got != "team" {
		t.Errorf("device_name = %q", got)
	}

	chatID, err := env.states.Consume(context.Background(), q.Get("state"))
	if err != nil {
		t.Fatalf("state from the link does not verify: %v", err)
	}
	if chatID != testChat {
		t.Errorf("state chat = %d, want %d", chatID, testChat)
	}
}

func TestLogin_NotConfigured(t *testing.T) {
	env := newTestEnv(t, defaultConfig(), oauth.Config{})
	env.bot.HandleUpdate(context.Background(), commandUpdate(testChat, "/login"))

	if diff := cmp.Diff([]string{msgOAuthDisabled}, env.api.texts()); diff != "" {
		t.Errorf("replies mismatch (-want +got):\n%s", diff)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, defaultConfig(), testOAuth)
	ctx := context.Background()
	if _, err := env.sessions.Authorize(ctx, testChat, "oauth-token"); err != nil {
		t.Fatal(err)
	}

	env.bot.HandleUpdate(ctx, commandUpdate(testChat, "/logout"))

	if diff := cmp.Diff([]string{msgLoggedOut}, env.api.texts()); diff != "" {
		t.Errorf("replies mismatch (-want +got):\n%s", diff)
	}
	sess, err := env.sessions.Get(ctx, testChat)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Authorized() {
		t.Error("session still authorized after logout")
	}
}

func TestFolder(t *testing.T) {
	tests := []struct {
		name       string
		authorized bool
		listErr    error
		wantText   string
		wantLabels []string
	}{
		{name: "not authorized", wantText: msgNotAuthorized},
		{
			name:       "lists folders marking the selection",
			authorized: true,
			wantText:   msgPickFolder,
			wantLabels: []string{"cloud - default", "✓ cloud - user"},
		},
		{
			name:       "listing fails",
			authorized: true,
			listErr:    &resourcemanager.ListError{Resource: "clouds", StatusCode: 403},
			wantText:   msgListFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, defaultConfig(), testOAuth)
			env.folders.err = tt.listErr
			ctx := context.Background()
			if tt.authorized {
				if _, err := env.sessions.Authorize(ctx, testChat, "oauth-token"); err != nil {
					t.Fatal(err)
				}
				if err := env.sessions.SelectFolder(ctx, testChat, userFolder); err != nil {
					t.Fatal(err)
				}
			}

			env.bot.HandleUpdate(ctx, commandUpdate(testChat, "/folder"))

			msg := env.api.lastMessage(t)
			if msg.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", msg.Text, tt.wantText)
			}
			if tt.wantLabels == nil {
				return
			}
			markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
			if !ok {
				t.Fatalf("ReplyMarkup = %#v", msg.ReplyMarkup)
			}
			var labels []string
			for _, row := range markup.InlineKeyboard {
				labels = append(labels, row[0].Text)
				if !strings.HasPrefix(*row[0].CallbackData, folderCallbackPrefix) {
					t.Errorf("callback data %q lacks prefix", *row[0].CallbackData)
				}
			}
			if diff := cmp.Diff(tt.wantLabels, labels); diff != "" {
				t.Errorf("labels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFolderCallback(t *testing.T) {
	tests := []struct {
		name       string
		authorized bool
		data       string
		wantAnswer string
		wantFolder string
	}{
		{
			name:       "selects folder",
			authorized: true,
			data:       folderCallbackPrefix + userFolder,
			wantAnswer: "Выбран каталог " + userFolder,
			wantFolder: userFolder,
		},
		{
			name:       "not authorized",
			data:       folderCallbackPrefix + userFolder,
			wantAnswer: msgNotAuthorized,
		},
		{
			name:       "malformed folder id",
			authorized: true,
			data:       folderCallbackPrefix + "../../etc",
			wantAnswer: msgFolderFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, defaultConfig(), testOAuth)
			ctx := context.Background()
			if tt.authorized {
				if _, err := env.sessions.Authorize(ctx, testChat, "oauth-token"); err != nil {
					t.Fatal(err)
				}
			}

			env.bot.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
				ID:      "cb-1",
				Data:    tt.data,
				Message: &tgbotapi.Message{MessageID: 3, Chat: &tgbotapi.Chat{ID: testChat}},
			}})

			if len(env.api.requests) != 1 {
				t.Fatalf("callback answers = %d, want 1", len(env.api.requests))
			}
			answer := env.api.requests[0].(tgbotapi.CallbackConfig)
			if answer.Text != tt.wantAnswer {
				t.Errorf("answer = %q, want %q", answer.Text, tt.wantAnswer)
			}

			sess, err := env.sessions.Get(ctx, testChat)
			if err != nil {
				t.Fatal(err)
			}
			var folder string
			if sess != nil {
				folder = sess.FolderID
			}
			if folder != tt.wantFolder {
				t.Errorf("FolderID = %q, want %q", folder, tt.wantFolder)
			}
		})
	}
}

func TestNotifyAuthorized(t *testing.T) {
	env := newTestEnv(t, defaultConfig(), testOAuth)
	ctx := context.Background()

	if err := env.bot.NotifyAuthorized(ctx, testChat); !errors.Is(err, session.ErrNotAuthorized) {
		t.Fatalf("NotifyAuthorized() unauthorized error = %v, want ErrNotAuthorized", err)
	}

	if _, err := env.sessions.Authorize(ctx, testChat, "oauth-token"); err != nil {
		t.Fatal(err)
	}
	if err := env.bot.NotifyAuthorized(ctx, testChat); err != nil {
		t.Fatalf("NotifyAuthorized() error = %v", err)
	}
	msg := env.api.lastMessage(t)
	if want := msgAuthorized + "\n\n" + msgPickFolder; msg.Text != want {
		t.Errorf("Text = %q, want %q", msg.Text, want)
	}
	if _, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); !ok {
		t.Errorf("ReplyMarkup = %#v, want folder keyboard", msg.ReplyMarkup)
	}
}

func TestRun(t *testing.T) {
	cfg := defaultConfig()
	cfg.Allowlist = validation.AllChats()
	env := newTestEnv(t, cfg, testOAuth)
	updates := make(chan tgbotapi.Update, 3)
	for i := 0; i < 3; i++ {
		updates <- voiceUpdate(int64(i+1), 2)
	}
	close(updates)

	env.bot.Run(context.Background(), updates)

	if got := len(env.api.texts()); got != 3 {
		t.Errorf("replies = %d, want 3", got)
	}
}

func TestCommands_ChatNotPermitted(t *testing.T) {
	const outsider int64 = 7
	refusal := "Чат с ID 7 не в списке разрешенных"

	tests := []struct {
		name   string
		update tgbotapi.Update
	}{
		{name: "login", update: commandUpdate(outsider, "/login")},
		{name: "logout", update: commandUpdate(outsider, "/logout")},
		{name: "folder", update: commandUpdate(outsider, "/folder")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, defaultConfig(), testOAuth)
			ctx := context.Background()
			if _, err := env.sessions.Authorize(ctx, outsider, "oauth-token"); err != nil {
				t.Fatal(err)
			}

			env.bot.HandleUpdate(ctx, tt.update)

			if diff := cmp.Diff([]string{refusal}, env.api.texts()); diff != "" {
				t.Errorf("replies mismatch (-want +got):\n%s", diff)
			}
			sess, err := env.sessions.Get(ctx, outsider)
			if err != nil {
				t.Fatal(err)
			}
			if !sess.Authorized() {
				t.Error("session changed for a chat outside the allowlist")
			}
		})
	}

	t.Run("folder callback", func(t *testing.T) {
		env := newTestEnv(t, defaultConfig(), testOAuth)
		ctx := context.Background()
		if _, err := env.sessions.Authorize(ctx, outsider, "oauth-token"); err != nil {
			t.Fatal(err)
		}

		env.bot.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb-1",
			Data:    folderCallbackPrefix + userFolder,
			Message: &tgbotapi.Message{MessageID: 3, Chat: &tgbotapi.Chat{ID: outsider}},
		}})

		if len(env.api.requests) != 1 {
			t.Fatalf("callback answers = %d, want 1", len(env.api.requests))
		}
		if answer := env.api.requests[0].(tgbotapi.CallbackConfig); answer.Text != refusal {
			t.Errorf("answer = %q, want %q", answer.Text, refusal)
		}
		sess, err := env.sessions.Get(ctx, outsider)
		if err != nil {
			t.Fatal(err)
		}
		if sess.FolderID != "" {
			t.Errorf("FolderID = %q, want none", sess.FolderID)
		}
	})
}
