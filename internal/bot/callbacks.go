package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/agency-assistant/internal/assistant"
	"github.com/xaenox/agency-assistant/internal/models"
	"github.com/xaenox/agency-assistant/internal/prompt"
	"go.uber.org/zap"
)

// Callback data prefixes. Telegram limits callback data to 64 bytes.
const (
	cbImageAction = "img"
	cbStory       = "story"
	cbSwitch      = "sess"
	cbDelete      = "del"
	cbEmojis      = "emoji"

	storyAnyValue = "any"
)

func callbackData(kind, value string) string {
	return kind + ":" + value
}

func parseCallback(data string) (kind, value string, ok bool) {
	kind, value, ok = strings.Cut(data, ":")
	if !ok || kind == "" {
		return "", "", false
	}
	return kind, value, true
}

func imageActionKeyboard() tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	for _, kind := range []models.ImageActionKind{models.ImageAnalyze, models.ImageCaption, models.ImagePost} {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(prompt.ImageActionLabel(kind), callbackData(cbImageAction, string(kind))))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func storyKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, c := range models.StoryCategories {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(prompt.StoryCategoryLabel(c), callbackData(cbStory, string(c))))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData(prompt.StoryCategoryLabel(models.StoryAny), callbackData(cbStory, storyAnyValue)))
	rows = append(rows, row)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func sessionsKeyboard(sessions []*models.ChatSession, activeID string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, s := range sessions {
		label := truncate(sessionTitle(s), 40)
		if s.ID == activeID {
			label = "▶️ " + label
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callbackData(cbSwitch, s.ID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑", callbackData(cbDelete, s.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func personalityKeyboard(useEmojis bool) tgbotapi.InlineKeyboardMarkup {
	label := "😀 Ativar emojis"
	if useEmojis {
		label = "🚫 Desativar emojis"
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(label, callbackData(cbEmojis, "toggle")),
	))
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.Message == nil || query.From == nil {
		b.answerCallback(query.ID, "")
		return
	}
	chatID := query.Message.Chat.ID

	kind, value, ok := parseCallback(query.Data)
	if !ok {
		b.answerCallback(query.ID, "")
		return
	}

	switch kind {
	case cbImageAction:
		b.handleImageAction(ctx, query, models.ImageActionKind(value))
	case cbStory:
		category := models.StoryCategory(value)
		if value == storyAnyValue {
			category = models.StoryAny
		}
		b.dispatch(ctx, chatID, assistant.TurnRequest{
			ClientID: query.From.ID,
			Category: &category,
		}, query.ID)
	case cbSwitch:
		b.handleSwitchSession(ctx, query, value)
	case cbDelete:
		b.handleDeleteSession(ctx, query, value)
	case cbEmojis:
		b.handleToggleEmojis(ctx, query)
	default:
		b.logger.Warn("Unknown callback", zap.String("data", query.Data))
		b.answerCallback(query.ID, "")
	}
}

func (b *Bot) handleImageAction(ctx context.Context, query *tgbotapi.CallbackQuery, action models.ImageActionKind) {
	chatID := query.Message.Chat.ID
	photo := b.pendingPhoto(chatID)
	if photo == nil {
		b.answerCallback(query.ID, "Envie a imagem de novo, por favor.")
		return
	}

	b.dispatch(ctx, chatID, assistant.TurnRequest{
		ClientID: query.From.ID,
		Text:     photo.caption,
		Image:    photo.image,
		Action:   action,
	}, query.ID)
}

func (b *Bot) handleSwitchSession(ctx context.Context, query *tgbotapi.CallbackQuery, sessionID string) {
	session, err := b.storage.GetSession(ctx, sessionID)
	if err != nil || session.ClientID != query.From.ID {
		b.answerCallback(query.ID, "Conversa não encontrada.")
		return
	}

	client, err := b.storage.GetClient(ctx, query.From.ID)
	if err == nil {
		client.ActiveSessionID = session.ID
		err = b.storage.SaveClient(ctx, client)
	}
	if err != nil {
		b.logger.Error("Failed to switch session",
			zap.Error(err),
			zap.String("session_id", sessionID))
		b.answerCallback(query.ID, "Não consegui trocar de conversa.")
		return
	}

	b.forgetPhoto(query.Message.Chat.ID)
	b.answerCallback(query.ID, "")
	b.sendMessage(query.Message.Chat.ID, "💬 Conversa retomada: "+sessionTitle(session))
}

func (b *Bot) handleDeleteSession(ctx context.Context, query *tgbotapi.CallbackQuery, sessionID string) {
	session, err := b.storage.GetSession(ctx, sessionID)
	if err != nil || session.ClientID != query.From.ID {
		b.answerCallback(query.ID, "Conversa não encontrada.")
		return
	}
	if err := b.storage.DeleteSession(ctx, sessionID); err != nil {
		b.logger.Error("Failed to delete session",
			zap.Error(err),
			zap.String("session_id", sessionID))
		b.answerCallback(query.ID, "Não consegui apagar a conversa.")
		return
	}

	b.answerCallback(query.ID, "Conversa apagada")
	b.sendMessage(query.Message.Chat.ID, "🗑 Conversa apagada: "+sessionTitle(session))
}

func (b *Bot) handleToggleEmojis(ctx context.Context, query *tgbotapi.CallbackQuery) {
	client, err := b.storage.GetClient(ctx, query.From.ID)
	if err == nil {
		client.Personality.UseEmojis = !client.Personality.UseEmojis
		err = b.storage.SaveClient(ctx, client)
	}
	if err != nil {
		b.logger.Error("Failed to toggle emojis",
			zap.Error(err),
			zap.Int64("user_id", query.From.ID))
		b.answerCallback(query.ID, "Não consegui salvar a alteração.")
		return
	}

	b.answerCallback(query.ID, "")
	edit := tgbotapi.NewEditMessageTextAndMarkup(query.Message.Chat.ID, query.Message.MessageID,
		formatPersonality(client), personalityKeyboard(client.Personality.UseEmojis))
	edit.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Error("Failed to update personality message",
			zap.Error(err),
			zap.Int64("chat_id", query.Message.Chat.ID))
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Warn("Failed to answer callback", zap.Error(err))
	}
}
