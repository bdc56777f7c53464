package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/agency-assistant/internal/models"
	"go.uber.org/zap"
)

const (
	historyLimit  = 10
	sessionsLimit = 10
)

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(ctx, message)
	case "help":
		b.handleHelp(message)
	case "new":
		b.handleNew(ctx, message)
	case "sessions":
		b.handleSessions(ctx, message)
	case "delete":
		b.handleDelete(ctx, message)
	case "history":
		b.handleHistory(ctx, message)
	case "story":
		b.handleStory(message)
	case "personality":
		b.handlePersonality(ctx, message)
	case "tone", "name", "business":
		b.handleProfileField(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Comando desconhecido. Use /help para ver os comandos disponíveis.")
	}
}

func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	client, err := b.storage.GetClient(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to load client",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
	} else if client.Name == "" {
		client.Name = message.From.FirstName
		if err := b.storage.SaveClient(ctx, client); err != nil {
			b.logger.Error("Failed to save client",
				zap.Error(err),
				zap.Int64("user_id", message.From.ID))
		}
	}

	welcome := `Olá! 👋 Eu sou a assistente de marketing da agência.

Posso ajudar com legendas, ideias de posts e stories, estratégia e imagens para o seu negócio.
Converse comigo normalmente, peça "gere uma imagem de ..." ou me envie uma foto.

Use /business para me contar sobre o seu negócio e /help para ver todos os comandos.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Comandos disponíveis:
/new - Começar uma nova conversa
/sessions - Ver e trocar de conversa
/delete - Apagar a conversa atual
/history - Ver as últimas mensagens
/story - Ideias de stories por categoria
/business <texto> - Descrever o seu negócio
/name <texto> - Nome da assistente
/tone <texto> - Tom das respostas
/personality - Ver a personalidade; /personality <texto> define instruções extras

Você também pode:
- Pedir imagens: "gere uma imagem de um bolo de chocolate"
- Enviar uma foto para analisar, criar legendas ou sugerir um post`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleNew(ctx context.Context, message *tgbotapi.Message) {
	client, err := b.storage.GetClient(ctx, message.From.ID)
	if err == nil {
		_, err = b.startSession(ctx, client)
	}
	if err != nil {
		b.logger.Error("Failed to start session",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Não consegui criar uma nova conversa. Tente novamente.")
		return
	}
	b.forgetPhoto(message.Chat.ID)
	b.sendMessage(message.Chat.ID, "✨ Nova conversa iniciada. Como posso ajudar?")
}

func (b *Bot) handleSessions(ctx context.Context, message *tgbotapi.Message) {
	sessions, err := b.storage.ListSessions(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to list sessions",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Não consegui carregar suas conversas.")
		return
	}
	if len(sessions) == 0 {
		b.sendMessage(message.Chat.ID, "Você ainda não tem conversas. É só mandar uma mensagem!")
		return
	}

	client, err := b.storage.GetClient(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to load client",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Não consegui carregar suas conversas.")
		return
	}

	if len(sessions) > sessionsLimit {
		sessions = sessions[:sessionsLimit]
	}

	response := "*Suas conversas:*\n\n"
	for _, s := range sessions {
		marker := "▫️"
		if s.ID == client.ActiveSessionID {
			marker = "▶️"
		}
		response += fmt.Sprintf("%s %s _%s_\n", marker, escapeMarkdown(sessionTitle(s)),
			escapeMarkdown(s.CreatedAt.Format("02/01/2006 15:04")))
	}
	b.sendMarkdown(message.Chat.ID, response, sessionsKeyboard(sessions, client.ActiveSessionID))
}

func (b *Bot) handleDelete(ctx context.Context, message *tgbotapi.Message) {
	client, err := b.storage.GetClient(ctx, message.From.ID)
	if err != nil || client.ActiveSessionID == "" {
		b.sendMessage(message.Chat.ID, "Não há conversa ativa para apagar.")
		return
	}
	if err := b.storage.DeleteSession(ctx, client.ActiveSessionID); err != nil {
		b.logger.Error("Failed to delete session",
			zap.Error(err),
			zap.String("session_id", client.ActiveSessionID))
		b.sendErrorMessage(message.Chat.ID, "Não consegui apagar a conversa.")
		return
	}
	b.forgetPhoto(message.Chat.ID)
	b.sendMessage(message.Chat.ID, "🗑 Conversa apagada. A próxima mensagem começa uma nova.")
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	client, err := b.storage.GetClient(ctx, message.From.ID)
	if err != nil || client.ActiveSessionID == "" {
		b.sendMessage(message.Chat.ID, "Você ainda não tem mensagens nesta conversa.")
		return
	}

	messages, err := b.storage.ListMessages(ctx, client.ActiveSessionID)
	if err != nil {
		b.logger.Error("Failed to get session messages",
			zap.Error(err),
			zap.String("session_id", client.ActiveSessionID))
		b.sendErrorMessage(message.Chat.ID, "Não consegui recuperar o histórico.")
		return
	}
	if len(messages) == 0 {
		b.sendMessage(message.Chat.ID, "Você ainda não tem mensagens nesta conversa.")
		return
	}

	b.sendMarkdown(message.Chat.ID, formatHistory(messages, historyLimit), nil)
}

func (b *Bot) handleStory(message *tgbotapi.Message) {
	msg := tgbotapi.NewMessage(message.Chat.ID, "Que tipo de stories você quer? Escolha uma categoria:")
	msg.ReplyMarkup = storyKeyboard()
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send story categories",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handlePersonality(ctx context.Context, message *tgbotapi.Message) {
	client, err := b.storage.GetClient(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to load client",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Não consegui carregar seu perfil.")
		return
	}

	if instructions := strings.TrimSpace(message.CommandArguments()); instructions != "" {
		client.Personality.Instructions = instructions
		if err := b.storage.SaveClient(ctx, client); err != nil {
			b.logger.Error("Failed to save client",
				zap.Error(err),
				zap.Int64("user_id", message.From.ID))
			b.sendErrorMessage(message.Chat.ID, "Não consegui salvar as instruções.")
			return
		}
	}

	b.sendMarkdown(message.Chat.ID, formatPersonality(client), personalityKeyboard(client.Personality.UseEmojis))
}

// handleProfileField sets one free-text profile field from the command arguments.
func (b *Bot) handleProfileField(ctx context.Context, message *tgbotapi.Message) {
	value := strings.TrimSpace(message.CommandArguments())
	if value == "" {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Use /%s <texto>.", message.Command()))
		return
	}

	client, err := b.storage.GetClient(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to load client",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Não consegui carregar seu perfil.")
		return
	}

	var confirmation string
	switch message.Command() {
	case "tone":
		client.Personality.Tone = value
		confirmation = "Combinado, vou responder com tom " + value + "."
	case "name":
		client.Personality.AssistantName = value
		confirmation = "Pode me chamar de " + value + " a partir de agora!"
	case "business":
		client.Business = value
		confirmation = "Anotado! Vou considerar o seu negócio nas próximas respostas."
	}

	if err := b.storage.SaveClient(ctx, client); err != nil {
		b.logger.Error("Failed to save client",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Não consegui salvar a alteração.")
		return
	}
	b.sendMessage(message.Chat.ID, "✅ "+confirmation)
}

func sessionTitle(s *models.ChatSession) string {
	if s.Title == "" {
		return "Nova conversa"
	}
	return s.Title
}

// formatHistory renders the last limit messages as MarkdownV2.
func formatHistory(messages []*models.ChatMessage, limit int) string {
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	response := "*Últimas mensagens:*\n\n"
	for _, m := range messages {
		who := "Você"
		if m.Role == models.RoleAssistant {
			who = "Assistente"
		}
		content := truncate(strings.TrimSpace(m.Content), 300)
		if m.Image != "" {
			content = strings.TrimSpace("🖼 " + content)
		}
		response += fmt.Sprintf("*%s:* %s\n\n", who, escapeMarkdown(content))
	}
	return response
}

func formatPersonality(client *models.Client) string {
	p := client.Personality
	valueOr := func(v, fallback string) string {
		if v == "" {
			return fallback
		}
		return v
	}
	emojis := "não"
	if p.UseEmojis {
		emojis = "sim"
	}

	response := "*Personalidade da assistente:*\n\n"
	response += fmt.Sprintf("*Nome:* %s\n", escapeMarkdown(valueOr(p.AssistantName, "padrão da agência")))
	response += fmt.Sprintf("*Tom:* %s\n", escapeMarkdown(valueOr(p.Tone, "padrão da agência")))
	response += fmt.Sprintf("*Emojis:* %s\n", emojis)
	response += fmt.Sprintf("*Instruções:* %s\n", escapeMarkdown(valueOr(p.Instructions, "nenhuma")))
	response += fmt.Sprintf("*Negócio:* %s\n", escapeMarkdown(valueOr(client.Business, "não informado")))
	return response
}
