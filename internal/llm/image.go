package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var ErrImageRejected = errors.New("image generation rejected")

type ImageRequest struct {
	Prompt               string
	ReferenceImageBase64 string
	Model                string
	Width                int
	Height               int
}

type ImageResult struct {
	URL string
}

type ImageGenerator interface {
	Generate(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

// ExternalImageClient calls the third-party image generation service.
type ExternalImageClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewExternalImageClient(baseURL, apiKey string, logger *zap.Logger) *ExternalImageClient {
	return &ExternalImageClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type externalImageRequest struct {
	Prompt               string `json:"prompt"`
	ReferenceImageBase64 string `json:"referenceImageBase64,omitempty"`
	Model                string `json:"model,omitempty"`
	Width                int    `json:"width,omitempty"`
	Height               int    `json:"height,omitempty"`
}

type externalImageResponse struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl"`
	Error    string `json:"error"`
}

func (c *ExternalImageClient) Generate(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	payload, err := json.Marshal(externalImageRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("image request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Image generation failed",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return nil, fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result externalImageResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if !result.Success || result.ImageURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrImageRejected, result.Error)
	}
	return &ImageResult{URL: result.ImageURL}, nil
}

// OpenAIImageClient generates images through the OpenAI images endpoint.
type OpenAIImageClient struct {
	client *openai.Client
	logger *zap.Logger
}

func NewOpenAIImageClient(client *openai.Client, logger *zap.Logger) *OpenAIImageClient {
	return &OpenAIImageClient{client: client, logger: logger}
}

func (c *OpenAIImageClient) Generate(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if req.ReferenceImageBase64 != "" {
		c.logger.Debug("Reference image ignored by the OpenAI provider")
	}

	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          req.Model,
		N:              1,
		Size:           fmt.Sprintf("%dx%d", req.Width, req.Height),
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, fmt.Errorf("%w: no image returned", ErrImageRejected)
	}
	return &ImageResult{URL: resp.Data[0].URL}, nil
}
