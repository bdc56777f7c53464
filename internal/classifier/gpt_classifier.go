package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Judge decides ambiguous utterances.
type Judge interface {
	IsImageRequest(ctx context.Context, utterance string) (bool, error)
}

const judgePrompt = `Você classifica mensagens enviadas a um assistente de marketing.
Responda apenas "sim" se a mensagem pede explicitamente que uma imagem seja gerada agora,
ou "nao" em qualquer outro caso. Não escreva mais nada.`

// GPTClassifier asks a small model for a yes/no verdict.
type GPTClassifier struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewGPTClassifier(client *openai.Client, model string, logger *zap.Logger) *GPTClassifier {
	return &GPTClassifier{
		client:      client,
		model:       model,
		maxTokens:   3,
		temperature: 0,
		logger:      logger,
	}
}

func (c *GPTClassifier) IsImageRequest(ctx context.Context, utterance string) (bool, error) {
	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: judgePrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: utterance,
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
		},
	)
	if err != nil {
		return false, fmt.Errorf("classification request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return false, fmt.Errorf("classification request: empty choices")
	}

	answer := normalize(bare(resp.Choices[0].Message.Content))
	switch {
	case strings.HasPrefix(answer, "sim"), strings.HasPrefix(answer, "yes"):
		return true, nil
	case strings.HasPrefix(answer, "nao"), strings.HasPrefix(answer, "no"):
		return false, nil
	}

	c.logger.Warn("Unexpected classification answer",
		zap.String("answer", resp.Choices[0].Message.Content))
	return false, nil
}
