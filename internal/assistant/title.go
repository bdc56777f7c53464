package assistant

import (
	"context"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/agency-assistant/internal/prompt"
	"go.uber.org/zap"
)

// generateTitle names the session after its first exchange. It runs in the
// background and outlives the turn; failures only get logged.
func (d *Dispatcher) generateTitle(ctx context.Context, sessionID, userText, replyText string, logger *zap.Logger) {
	ctx = context.WithoutCancel(ctx)

	d.background.Add(1)
	go func() {
		defer d.background.Done()

		ctx, cancel := context.WithTimeout(ctx, titleTimeout)
		defer cancel()

		raw, err := d.chat.Complete(ctx, openai.ChatCompletionRequest{
			Model:     d.opts.TitleModel,
			Messages:  prompt.TitleMessages(userText, replyText),
			MaxTokens: 30,
		})
		if err != nil {
			logger.Warn("Title generation failed", zap.Error(err))
			return
		}
		title := prompt.CleanTitle(raw)
		if title == "" {
			return
		}
		if err := d.store.UpdateSessionTitle(ctx, sessionID, title); err != nil {
			logger.Warn("Failed to save session title", zap.Error(err))
			return
		}
		logger.Debug("Session titled", zap.String("title", title))
	}()
}
