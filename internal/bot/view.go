package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/agency-assistant/internal/assistant"
	"github.com/xaenox/agency-assistant/internal/classifier"
	"github.com/xaenox/agency-assistant/internal/llm"
	"github.com/xaenox/agency-assistant/internal/models"
	"github.com/xaenox/agency-assistant/internal/stream"
	"go.uber.org/zap"
)

// Telegram rejects messages longer than 4096 characters.
const maxMessageLen = 4096

// sender is the part of the Bot API the view needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// chatView renders one turn into a Telegram chat. Streamed previews live
// in a single message that is edited at most once per interval.
type chatView struct {
	api      sender
	chatID   int64
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	previewID   int
	previewText string
	lastEdit    time.Time

	// callbackID is set when the turn was started from an inline button.
	callbackID string
	answered   bool

	// failEdited is set when Fail reused a placeholder. Edits raise no
	// notification on the client's device.
	failEdited bool
	shownImage bool
}

func newChatView(api sender, chatID int64, interval time.Duration, logger *zap.Logger) *chatView {
	return &chatView{
		api:      api,
		chatID:   chatID,
		interval: interval,
		logger:   logger.With(zap.Int64("chat_id", chatID)),
		now:      time.Now,
	}
}

func (v *chatView) ShowPending(ctx context.Context, intent models.Intent) (assistant.Placeholder, error) {
	msg, err := v.api.Send(tgbotapi.NewMessage(v.chatID, pendingText(intent)))
	if err != nil {
		return assistant.Placeholder{}, err
	}
	return assistant.Placeholder{ID: strconv.Itoa(msg.MessageID)}, nil
}

func (v *chatView) Resolve(ctx context.Context, p assistant.Placeholder, msg models.ChatMessage) error {
	id, err := strconv.Atoi(p.ID)
	if err != nil {
		return v.Show(ctx, msg)
	}

	if msg.Image != "" {
		v.deleteMessage(id)
		return v.Show(ctx, msg)
	}

	chunks := splitMessage(msg.Content, maxMessageLen)
	if _, err := v.api.Send(tgbotapi.NewEditMessageText(v.chatID, id, chunks[0])); err != nil {
		return err
	}
	for _, chunk := range chunks[1:] {
		if _, err := v.api.Send(tgbotapi.NewMessage(v.chatID, chunk)); err != nil {
			return err
		}
	}
	return nil
}

func (v *chatView) Fail(ctx context.Context, p *assistant.Placeholder, err error) {
	text := "⚠️ " + userMessage(err)
	if p != nil {
		if id, convErr := strconv.Atoi(p.ID); convErr == nil {
			if _, sendErr := v.api.Send(tgbotapi.NewEditMessageText(v.chatID, id, text)); sendErr == nil {
				v.mu.Lock()
				v.failEdited = true
				v.mu.Unlock()
				return
			}
		}
	}
	if _, sendErr := v.api.Send(tgbotapi.NewMessage(v.chatID, text)); sendErr != nil {
		v.logger.Error("Failed to send error message", zap.Error(sendErr))
	}
}

// Notify shows an alert on the button that started the turn. Turns started
// from a plain message get a short message instead, but only when Fail
// edited an existing message and so raised no notification of its own.
func (v *chatView) Notify(ctx context.Context, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.callbackID == "" {
		if !v.failEdited {
			return
		}
		if _, sendErr := v.api.Send(tgbotapi.NewMessage(v.chatID, "⚠️ Não deu certo, veja a mensagem acima.")); sendErr != nil {
			v.logger.Warn("Failed to send notification", zap.Error(sendErr))
		}
		return
	}
	if v.answered {
		return
	}
	v.answered = true
	if _, reqErr := v.api.Request(tgbotapi.NewCallbackWithAlert(v.callbackID, userMessage(err))); reqErr != nil {
		v.logger.Warn("Failed to answer callback", zap.Error(reqErr))
	}
}

// ack answers the originating callback query if Notify did not.
func (v *chatView) ack() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.callbackID == "" || v.answered {
		return
	}
	v.answered = true
	if _, err := v.api.Request(tgbotapi.NewCallback(v.callbackID, "")); err != nil {
		v.logger.Warn("Failed to answer callback", zap.Error(err))
	}
}

func (v *chatView) Preview(ctx context.Context, snap stream.Snapshot, showReasoning bool) {
	text := renderPreview(snap, showReasoning)
	if text == "" {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.previewID == 0 {
		msg, err := v.api.Send(tgbotapi.NewMessage(v.chatID, text))
		if err != nil {
			v.logger.Warn("Failed to send preview", zap.Error(err))
			return
		}
		v.previewID = msg.MessageID
		v.previewText = text
		v.lastEdit = v.now()
		return
	}

	if text == v.previewText || v.now().Sub(v.lastEdit) < v.interval {
		return
	}
	if _, err := v.api.Send(tgbotapi.NewEditMessageText(v.chatID, v.previewID, text)); err != nil {
		v.logger.Debug("Failed to edit preview", zap.Error(err))
		return
	}
	v.previewText = text
	v.lastEdit = v.now()
}

func (v *chatView) ClearPreview(ctx context.Context) {
	v.mu.Lock()
	id := v.previewID
	v.previewID = 0
	v.previewText = ""
	v.mu.Unlock()

	if id != 0 {
		v.deleteMessage(id)
	}
}

func (v *chatView) Show(ctx context.Context, msg models.ChatMessage) error {
	if msg.Image != "" {
		v.mu.Lock()
		v.shownImage = true
		v.mu.Unlock()

		photo := tgbotapi.NewPhoto(v.chatID, tgbotapi.FileURL(msg.Image))
		photo.Caption = truncate(msg.Content, 1024)
		_, err := v.api.Send(photo)
		if err == nil {
			return nil
		}
		v.logger.Warn("Failed to send photo, falling back to link", zap.Error(err))
		_, err = v.api.Send(tgbotapi.NewMessage(v.chatID, "🖼 "+msg.Image))
		return err
	}

	for _, chunk := range splitMessage(msg.Content, maxMessageLen) {
		if _, err := v.api.Send(tgbotapi.NewMessage(v.chatID, chunk)); err != nil {
			return err
		}
	}
	return nil
}

// deliveredImage reports whether the turn showed a generated image.
func (v *chatView) deliveredImage() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shownImage
}

func (v *chatView) deleteMessage(id int) {
	if _, err := v.api.Request(tgbotapi.NewDeleteMessage(v.chatID, id)); err != nil {
		v.logger.Debug("Failed to delete message", zap.Int("message_id", id), zap.Error(err))
	}
}

func pendingText(intent models.Intent) string {
	switch intent.Kind {
	case models.IntentImageGeneration:
		return "🎨 Gerando sua imagem, isso pode levar alguns segundos..."
	case models.IntentStory:
		return "📝 Pensando em ideias de stories..."
	case models.IntentImageAction:
		switch intent.Action {
		case models.ImageCaption:
			return "✍️ Escrevendo legendas..."
		case models.ImagePost:
			return "📱 Montando a sugestão de post..."
		}
		return "🔍 Analisando a imagem..."
	}
	return "⏳ Um momento..."
}

// renderPreview formats a streaming snapshot. Reasoning is shown above the
// reply, cut to its most recent part.
func renderPreview(snap stream.Snapshot, showReasoning bool) string {
	text := strings.TrimSpace(snap.Text)
	if showReasoning && strings.TrimSpace(snap.Reasoning) != "" {
		reasoning := tail(strings.TrimSpace(snap.Reasoning), 600)
		if text == "" {
			return "💭 " + reasoning
		}
		text = "💭 " + reasoning + "\n\n" + text
	}
	if text == "" {
		return ""
	}
	return tail(text, maxMessageLen-2) + " ▌"
}

// userMessage turns a turn error into text for the client.
func userMessage(err error) string {
	switch {
	case errors.Is(err, assistant.ErrTurnInFlight):
		return "Ainda estou respondendo sua mensagem anterior. Aguarde um instante."
	case errors.Is(err, assistant.ErrEmptyInput):
		return "Envie um texto ou uma imagem."
	case errors.Is(err, classifier.ErrActionRequired):
		return "Escolha o que fazer com a imagem usando os botões."
	case errors.Is(err, assistant.ErrEmptyResponse):
		return "Não recebi resposta do modelo. Tente novamente."
	case errors.Is(err, assistant.ErrGenerationTimeout):
		return "A geração demorou demais e foi cancelada. Tente de novo."
	case errors.Is(err, llm.ErrImageRejected):
		return "O serviço de imagens recusou o pedido. Tente descrever de outro jeito."
	case errors.Is(err, assistant.ErrPersistFailed):
		return "Não consegui salvar a conversa. Tente novamente."
	case errors.Is(err, assistant.ErrGenerationFailed):
		return "Não consegui gerar a resposta agora. Tente novamente em instantes."
	default:
		return "Algo deu errado. Tente novamente."
	}
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// line breaks. It always returns at least one chunk.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "…" + string(r[len(r)-n+1:])
}
