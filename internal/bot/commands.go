package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wrale/vmtt-bot/internal/resourcemanager"
	"github.com/wrale/vmtt-bot/internal/session"
	"github.com/wrale/vmtt-bot/internal/validation"
)

// folderCallbackPrefix marks inline keyboard data selecting a folder
const folderCallbackPrefix = "folder:"

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		b.handleHelp(msg)
	case "login":
		b.handleLogin(ctx, msg)
	case "logout":
		b.handleLogout(ctx, msg)
	case "folder":
		b.handleFolder(ctx, msg)
	}
}

// permits replies with a refusal when the chat is not on the allowlist
func (b *Bot) permits(msg *tgbotapi.Message) bool {
	if b.cfg.Allowlist.Permits(msg.Chat.ID) {
		return true
	}
	b.reply(msg, fmt.Sprintf(msgChatNotPermitted, msg.Chat.ID))
	return false
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) {
	text := msgWelcome
	if b.deps.OAuth != nil && b.deps.OAuth.Configured() {
		text += "\n\n" + msgCommands
	}
	b.send(tgbotapi.NewMessage(msg.Chat.ID, text))
}

// deviceID identifies the chat to the OAuth provider
func deviceID(chatID int64) string {
	return fmt.Sprintf("vmtt-%d", chatID)
}

func deviceName(chat *tgbotapi.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	if chat.UserName != "" {
		return "@" + chat.UserName
	}
	return fmt.Sprintf("Telegram %d", chat.ID)
}

func (b *Bot) handleLogin(ctx context.Context, msg *tgbotapi.Message) {
	if b.deps.OAuth == nil || !b.deps.OAuth.Configured() {
		b.reply(msg, msgOAuthDisabled)
		return
	}
	if !b.permits(msg) {
		return
	}
	chatID := msg.Chat.ID

	state, err := b.deps.States.Issue(ctx, chatID)
	if err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("issuing oauth state")
		b.reply(msg, msgLoginFailed)
		return
	}
	authURL, err := b.deps.OAuth.AuthorizationURL(deviceID(chatID), deviceName(msg.Chat), state)
	if err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("building authorization url")
		b.reply(msg, msgLoginFailed)
		return
	}

	out := tgbotapi.NewMessage(chatID, msgLoginPrompt)
	out.ReplyToMessageID = msg.MessageID
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(msgLoginButton, authURL)),
	)
	b.send(out)
}

func (b *Bot) handleLogout(ctx context.Context, msg *tgbotapi.Message) {
	if !b.permits(msg) {
		return
	}
	if err := b.deps.Sessions.Logout(ctx, msg.Chat.ID); err != nil {
		b.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("logging out")
		b.reply(msg, msgLogoutFailed)
		return
	}
	b.reply(msg, msgLoggedOut)
}

func (b *Bot) handleFolder(ctx context.Context, msg *tgbotapi.Message) {
	if !b.permits(msg) {
		return
	}
	sess, err := b.deps.Sessions.Get(ctx, msg.Chat.ID)
	if err != nil {
		b.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("loading session")
		b.reply(msg, msgSessionFailed)
		return
	}
	if !sess.Authorized() {
		b.reply(msg, msgNotAuthorized)
		return
	}

	out, err := b.folderPicker(ctx, msg.Chat.ID, sess)
	if err != nil {
		b.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("listing folders")
		b.reply(msg, msgListFailed)
		return
	}
	out.ReplyToMessageID = msg.MessageID
	b.send(out)
}

// folderPicker builds a message offering every folder of the session's account
func (b *Bot) folderPicker(ctx context.Context, chatID int64, sess *session.Session) (tgbotapi.MessageConfig, error) {
	folders, err := b.deps.Folders.ListFolders(ctx, sess.OAuthToken)
	if err != nil {
		return tgbotapi.MessageConfig{}, err
	}
	if len(folders) == 0 {
		return tgbotapi.NewMessage(chatID, msgNoFolders), nil
	}

	out := tgbotapi.NewMessage(chatID, msgPickFolder)
	out.ReplyMarkup = folderKeyboard(folders, sess.FolderID)
	return out, nil
}

func folderKeyboard(folders []resourcemanager.Folder, selected string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(folders))
	for _, f := range folders {
		label := f.Label
		if f.ID == selected {
			label = "✓ " + label
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, folderCallbackPrefix+f.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if !strings.HasPrefix(cq.Data, folderCallbackPrefix) || cq.Message == nil || cq.Message.Chat == nil {
		b.answer(cq, "")
		return
	}
	chatID := cq.Message.Chat.ID
	if !b.cfg.Allowlist.Permits(chatID) {
		b.answer(cq, fmt.Sprintf(msgChatNotPermitted, chatID))
		return
	}
	folderID := strings.TrimPrefix(cq.Data, folderCallbackPrefix)
	log := b.log.With().Int64("chat_id", chatID).Str("folder_id", folderID).Logger()

	if err := validation.ValidateFolderID(folderID); err != nil {
		log.Warn().Err(err).Msg("rejecting folder selection")
		b.answer(cq, msgFolderFailed)
		return
	}

	if err := b.deps.Sessions.SelectFolder(ctx, chatID, folderID); err != nil {
		if errors.Is(err, session.ErrNotAuthorized) {
			b.answer(cq, msgNotAuthorized)
			return
		}
		log.Error().Err(err).Msg("selecting folder")
		b.answer(cq, msgFolderFailed)
		return
	}

	text := fmt.Sprintf(msgFolderSelected, folderID)
	b.answer(cq, text)
	b.send(tgbotapi.NewEditMessageText(chatID, cq.Message.MessageID, text))
	log.Info().Msg("folder selected")
}

func (b *Bot) answer(cq *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, text)); err != nil {
		b.log.Error().Err(err).Msg("answering callback")
	}
}

// NotifyAuthorized tells a chat its login completed and offers the folder
// picker. A failed listing still delivers the confirmation.
func (b *Bot) NotifyAuthorized(ctx context.Context, chatID int64) error {
	sess, err := b.deps.Sessions.Get(ctx, chatID)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if !sess.Authorized() {
		return session.ErrNotAuthorized
	}

	out, err := b.folderPicker(ctx, chatID, sess)
	if err != nil {
		b.log.Warn().Err(err).Int64("chat_id", chatID).Msg("listing folders after login")
		out = tgbotapi.NewMessage(chatID, msgListFailed)
	}
	out.Text = msgAuthorized + "\n\n" + out.Text

	if _, err := b.api.Send(out); err != nil {
		return fmt.Errorf("sending confirmation: %w", err)
	}
	return nil
}
