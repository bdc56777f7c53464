package bot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/agency-assistant/internal/assistant"
	"github.com/xaenox/agency-assistant/internal/models"
	"github.com/xaenox/agency-assistant/internal/storage"
	"go.uber.org/zap"
)

const (
	// Photos above this size are not downloaded for vision requests.
	maxPhotoBytes = 10 << 20
	// photoTTL bounds how long an uploaded photo waits for an action or
	// serves as reference for a generated image.
	photoTTL = 15 * time.Minute
)

// telegramAPI is the part of the Bot API used outside of polling.
type telegramAPI interface {
	sender
	GetFileDirectURL(fileID string) (string, error)
}

type Bot struct {
	api        telegramAPI
	poller     *tgbotapi.BotAPI
	storage    storage.Storage
	dispatcher *assistant.Dispatcher
	interval   time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	mu sync.Mutex
	// photos holds the last photo each chat sent, waiting for an action
	// button or used as reference for the next generated image.
	photos map[int64]*pendingPhoto
}

type pendingPhoto struct {
	image   *models.Attachment
	caption string
	at      time.Time
}

func New(api *tgbotapi.BotAPI, storage storage.Storage, dispatcher *assistant.Dispatcher, snapshotInterval time.Duration, logger *zap.Logger) *Bot {
	return &Bot{
		api:        api,
		poller:     api,
		storage:    storage,
		dispatcher: dispatcher,
		interval:   snapshotInterval,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		now:        time.Now,
		photos:     make(map[int64]*pendingPhoto),
	}
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.poller.GetUpdatesChan(u)
	b.logger.Info("Bot started", zap.String("username", b.poller.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.poller.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			switch {
			case update.CallbackQuery != nil:
				go b.handleCallback(ctx, update.CallbackQuery)
			case update.Message != nil:
				go b.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil {
		return
	}

	// Handle commands
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	if len(message.Photo) > 0 {
		b.handlePhoto(ctx, message)
		return
	}

	if strings.TrimSpace(message.Text) == "" {
		b.sendMessage(message.Chat.ID, "Por enquanto eu entendo textos e fotos. 🙂")
		return
	}

	req := assistant.TurnRequest{
		ClientID: message.From.ID,
		Text:     message.Text,
	}
	if photo := b.pendingPhoto(message.Chat.ID); photo != nil {
		req.Reference = photo.image
	}
	b.dispatch(ctx, message.Chat.ID, req, "")
}

// handlePhoto downloads the photo and asks what to do with it.
func (b *Bot) handlePhoto(ctx context.Context, message *tgbotapi.Message) {
	largest := message.Photo[len(message.Photo)-1]

	image, err := b.downloadPhoto(ctx, largest)
	if err != nil {
		b.logger.Error("Failed to download photo",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Não consegui baixar a imagem. Tente enviar de novo.")
		return
	}

	b.mu.Lock()
	b.photos[message.Chat.ID] = &pendingPhoto{image: image, caption: message.Caption, at: b.now()}
	b.mu.Unlock()

	msg := tgbotapi.NewMessage(message.Chat.ID,
		"Recebi a imagem! O que você quer que eu faça?\n"+
			"Se preferir, peça uma nova imagem inspirada nela, por exemplo: \"gere uma imagem parecida com fundo azul\".")
	msg.ReplyMarkup = imageActionKeyboard()
	msg.ReplyToMessageID = message.MessageID
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send image actions",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) downloadPhoto(ctx context.Context, photo tgbotapi.PhotoSize) (*models.Attachment, error) {
	if photo.FileSize > maxPhotoBytes {
		return nil, fmt.Errorf("photo too large: %d bytes", photo.FileSize)
	}

	fileURL, err := b.api.GetFileDirectURL(photo.FileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return nil, errors.New("photo too large")
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/jpeg"
	}
	// The file URL embeds the bot token, so only the file id is stored.
	return &models.Attachment{
		URL:      "telegram:file/" + photo.FileID,
		MimeType: mimeType,
		Base64:   base64.StdEncoding.EncodeToString(data),
	}, nil
}

// pendingPhoto returns the chat's last photo unless it has expired.
func (b *Bot) pendingPhoto(chatID int64) *pendingPhoto {
	b.mu.Lock()
	defer b.mu.Unlock()
	photo := b.photos[chatID]
	if photo != nil && b.now().Sub(photo.at) > photoTTL {
		delete(b.photos, chatID)
		return nil
	}
	return photo
}

// releasePhoto forgets image if it is still the chat's pending photo. A
// photo sent while the turn ran is kept.
func (b *Bot) releasePhoto(chatID int64, image *models.Attachment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if photo := b.photos[chatID]; photo != nil && photo.image == image {
		delete(b.photos, chatID)
	}
}

func (b *Bot) forgetPhoto(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.photos, chatID)
}

// dispatch runs one turn in the client's active session. The photo behind
// the turn is released once it was analysed or served as reference for a
// delivered image; failed turns keep it for a retry.
func (b *Bot) dispatch(ctx context.Context, chatID int64, req assistant.TurnRequest, callbackID string) {
	view := newChatView(b.api, chatID, b.interval, b.logger)
	view.callbackID = callbackID
	defer view.ack()

	session, err := b.activeSession(ctx, req.ClientID)
	if err != nil {
		b.logger.Error("Failed to resolve session",
			zap.Error(err),
			zap.Int64("client_id", req.ClientID))
		b.sendErrorMessage(chatID, "Não consegui abrir sua conversa. Tente novamente.")
		return
	}
	req.SessionID = session.ID

	if req.Category == nil && req.Image == nil {
		if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
			b.logger.Debug("Failed to send chat action", zap.Error(err))
		}
	}

	err = b.dispatcher.Send(ctx, req, view)
	switch {
	case err == nil:
		switch {
		case req.Image != nil:
			b.releasePhoto(chatID, req.Image)
		case req.Reference != nil && view.deliveredImage():
			b.releasePhoto(chatID, req.Reference)
		}
	case errors.Is(err, assistant.ErrTurnInFlight), errors.Is(err, assistant.ErrEmptyInput):
		// Rejected before the turn started, so the view was never told.
		if callbackID != "" {
			view.Notify(ctx, err)
			return
		}
		b.sendMessage(chatID, "⏳ "+userMessage(err))
	default:
		b.logger.Warn("Turn ended with error",
			zap.Error(err),
			zap.String("session_id", session.ID))
	}
}

// activeSession returns the client's current session, starting one when
// the client has none or it was deleted.
func (b *Bot) activeSession(ctx context.Context, clientID int64) (*models.ChatSession, error) {
	client, err := b.storage.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}

	if client.ActiveSessionID != "" {
		session, err := b.storage.GetSession(ctx, client.ActiveSessionID)
		if err == nil && session.ClientID == clientID {
			return session, nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load session: %w", err)
		}
	}
	return b.startSession(ctx, client)
}

func (b *Bot) startSession(ctx context.Context, client *models.Client) (*models.ChatSession, error) {
	session, err := b.storage.CreateSession(ctx, client.ID, "")
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	client.ActiveSessionID = session.ID
	if err := b.storage.SaveClient(ctx, client); err != nil {
		return nil, fmt.Errorf("save client: %w", err)
	}
	b.logger.Info("Session started",
		zap.String("session_id", session.ID),
		zap.Int64("client_id", client.ID))
	return session, nil
}

// escapeMarkdown escapes special characters for MarkdownV2.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
