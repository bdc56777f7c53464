// Package llm talks to the chat completion and image generation services.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var (
	ErrRequestFailed   = errors.New("API request failed")
	ErrEmptyCompletion = errors.New("empty completion")
)

// ChatClient sends chat completions to an OpenAI-compatible endpoint.
// Streaming requests go over raw HTTP so the caller can decode the event
// stream itself; everything else goes through go-openai.
type ChatClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	client     *openai.Client
	logger     *zap.Logger
}

func NewChatClient(baseURL, apiKey string, logger *zap.Logger) *ChatClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &ChatClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		client:     openai.NewClientWithConfig(cfg),
		logger:     logger,
	}
}

// OpenAI exposes the underlying go-openai client for callers that need
// endpoints beyond chat.
func (c *ChatClient) OpenAI() *openai.Client {
	return c.client
}

// Stream posts req with stream enabled and returns the response body.
// A server that answers with a plain JSON completion instead of an event
// stream is re-framed as a single "data:" line so one decoder handles both.
func (c *ChatClient) Stream(ctx context.Context, req openai.ChatCompletionRequest) (io.ReadCloser, error) {
	req.Stream = true

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("Streaming chat completion",
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("Chat completion failed",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return nil, fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return resp.Body, nil
	}

	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	framed := "data: " + compact.String() + "\n" + "data: [DONE]\n"
	return io.NopCloser(strings.NewReader(framed)), nil
}

// Complete runs a non-streaming completion and returns the first choice.
func (c *ChatClient) Complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	req.Stream = false
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}
