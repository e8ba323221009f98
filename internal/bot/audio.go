package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wrale/vmtt-bot/internal/stt"
	"github.com/wrale/vmtt-bot/internal/validation"
)

// attachment describes the audio carried by a message
type attachment struct {
	fileID   string
	kind     stt.AudioKind
	duration time.Duration
	size     int64
}

func attachmentOf(msg *tgbotapi.Message) attachment {
	if msg.Voice != nil {
		return attachment{
			fileID:   msg.Voice.FileID,
			kind:     stt.Voice,
			duration: time.Duration(msg.Voice.Duration) * time.Second,
			size:     int64(msg.Voice.FileSize),
		}
	}
	return attachment{
		fileID:   msg.Audio.FileID,
		kind:     stt.Audio,
		duration: time.Duration(msg.Audio.Duration) * time.Second,
		size:     int64(msg.Audio.FileSize),
	}
}

// handleAudio replies to a voice or audio message exactly once
func (b *Bot) handleAudio(ctx context.Context, msg *tgbotapi.Message) {
	if !b.permits(msg) {
		return
	}
	chatID := msg.Chat.ID

	att := attachmentOf(msg)
	if err := validation.ValidateAudio(att.duration, b.cfg.MaxDuration, att.size); err != nil {
		var vErr *validation.ValidationError
		if errors.As(err, &vErr) && vErr.Field == "size" {
			b.reply(msg, msgTooLarge)
			return
		}
		b.reply(msg, msgTooLong)
		return
	}

	b.reply(msg, b.transcribe(ctx, chatID, att))
}

func (b *Bot) transcribe(ctx context.Context, chatID int64, att attachment) string {
	log := b.log.With().Int64("chat_id", chatID).Stringer("kind", att.kind).Logger()

	sess, err := b.deps.Sessions.Get(ctx, chatID)
	if err != nil {
		log.Error().Err(err).Msg("loading session")
		return msgSessionFailed
	}
	var token string
	folderID := b.cfg.DefaultFolderID
	if sess.Authorized() {
		token = sess.OAuthToken
		if sess.FolderID != "" {
			folderID = sess.FolderID
		}
	}

	cred, err := b.deps.Credentials.Resolve(ctx, token)
	if err != nil {
		log.Error().Err(err).Msg("resolving credential")
		return msgCredentialFailed
	}

	audio, err := b.download(ctx, att.fileID)
	if err != nil {
		log.Error().Err(err).Msg("downloading audio")
		return msgDownloadFailed
	}

	start := time.Now()
	text := b.deps.Transcriber.Recognize(ctx, audio, att.kind, cred, folderID)
	log.Debug().Dur("took", time.Since(start)).Int("bytes", len(audio)).Msg("recognized")
	if strings.TrimSpace(text) == "" {
		return msgNothingHeard
	}
	return text
}

// download fetches a file from Telegram, bounded by validation.MaxAudioSize
func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	fileURL, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolving file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := b.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, validation.MaxAudioSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if len(data) > validation.MaxAudioSize {
		return nil, fmt.Errorf("file exceeds %d bytes", validation.MaxAudioSize)
	}
	return data, nil
}
