// Package assistant runs user turns: it classifies each one, performs the
// single generation it calls for, and keeps the session consistent.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/agency-assistant/internal/classifier"
	"github.com/xaenox/agency-assistant/internal/llm"
	"github.com/xaenox/agency-assistant/internal/models"
	"github.com/xaenox/agency-assistant/internal/prompt"
	"github.com/xaenox/agency-assistant/internal/storage"
	"github.com/xaenox/agency-assistant/internal/stream"
	"go.uber.org/zap"
)

const (
	titleTimeout        = 30 * time.Second
	defaultImageTimeout = 60 * time.Second
)

// ChatBackend is the chat completion boundary.
type ChatBackend interface {
	Stream(ctx context.Context, req openai.ChatCompletionRequest) (io.ReadCloser, error)
	Complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error)
}

type Options struct {
	ChatModel   string
	VisionModel string
	TitleModel  string
	MaxTokens   int
	Temperature float64
	// IsReasoningModel reports whether a model's reasoning should be shown live.
	IsReasoningModel func(model string) bool

	ImageModel   string
	ImageWidth   int
	ImageHeight  int
	ImageTimeout time.Duration

	ContextTokens int
	HistoryWindow int
}

// TurnRequest is one send from a client.
type TurnRequest struct {
	ClientID  int64
	SessionID string
	Text      string
	// Image is attached to this turn; Action is the button the client chose.
	Image  *models.Attachment
	Action models.ImageActionKind
	// Reference is an earlier image to base a generated image on.
	Reference *models.Attachment
	// Category is set when the client picked a story category button.
	Category *models.StoryCategory
}

type Dispatcher struct {
	store      storage.Storage
	classifier classifier.Classifier
	chat       ChatBackend
	images     llm.ImageGenerator
	prompts    *prompt.Builder
	opts       Options
	diag       *stream.Diagnostics
	logger     *zap.Logger

	turns      *turnRegistry
	background sync.WaitGroup
}

func NewDispatcher(
	store storage.Storage,
	clf classifier.Classifier,
	chat ChatBackend,
	images llm.ImageGenerator,
	prompts *prompt.Builder,
	opts Options,
	diag *stream.Diagnostics,
	logger *zap.Logger,
) *Dispatcher {
	if opts.IsReasoningModel == nil {
		opts.IsReasoningModel = func(string) bool { return false }
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 3
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = defaultImageTimeout
	}
	return &Dispatcher{
		store:      store,
		classifier: clf,
		chat:       chat,
		images:     images,
		prompts:    prompts,
		opts:       opts,
		diag:       diag,
		logger:     logger,
		turns:      newTurnRegistry(),
	}
}

// Active returns the state of the session's running turn, if any.
func (d *Dispatcher) Active(sessionID string) (TurnState, bool) {
	t, ok := d.turns.get(sessionID)
	if !ok {
		return Idle, false
	}
	return t.State(), true
}

// Wait blocks until background work such as title generation is done.
func (d *Dispatcher) Wait() {
	d.background.Wait()
}

// Send runs one turn to completion. Only one turn per session runs at a
// time; a concurrent Send for the same session fails with ErrTurnInFlight.
// Every failure after the turn starts is also reported to view.
func (d *Dispatcher) Send(ctx context.Context, req TurnRequest, view View) error {
	if strings.TrimSpace(req.Text) == "" && req.Image == nil && req.Category == nil {
		return ErrEmptyInput
	}

	turn := newTurn(req.SessionID)
	if !d.turns.begin(turn) {
		return ErrTurnInFlight
	}
	defer d.turns.end(turn)

	logger := d.logger.With(
		zap.String("session_id", req.SessionID),
		zap.String("turn_id", turn.ID),
		zap.Int64("client_id", req.ClientID))

	client, err := d.store.GetClient(ctx, req.ClientID)
	if err != nil {
		return d.abort(ctx, turn, view, nil, fmt.Errorf("load client: %w", err), logger)
	}
	history, err := d.store.ListMessages(ctx, req.SessionID)
	if err != nil {
		return d.abort(ctx, turn, view, nil, fmt.Errorf("load history: %w", err), logger)
	}

	intent, err := d.classify(ctx, req, history)
	if err != nil {
		return d.abort(ctx, turn, view, nil, err, logger)
	}
	turn.setIntent(intent)
	logger = logger.With(zap.Stringer("intent", intent.Kind))
	logger.Info("Dispatching turn")

	if intent.Kind == models.IntentPlainChat {
		return d.runChat(ctx, turn, req, client, history, view, logger)
	}
	return d.runMedia(ctx, turn, req, client, intent, view, logger)
}

func (d *Dispatcher) classify(ctx context.Context, req TurnRequest, history []*models.ChatMessage) (models.Intent, error) {
	if req.Category != nil {
		return models.StoryRequest(*req.Category), nil
	}
	return d.classifier.Classify(ctx, classifier.Input{
		Text:       req.Text,
		RecentUser: prompt.RecentUserTexts(history, d.opts.HistoryWindow),
		Image:      req.Image,
		Action:     req.Action,
	})
}

func (d *Dispatcher) runChat(ctx context.Context, turn *Turn, req TurnRequest, client *models.Client, history []*models.ChatMessage, view View, logger *zap.Logger) error {
	model := d.opts.ChatModel
	showReasoning := d.opts.IsReasoningModel(model)

	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: d.prompts.SystemPrompt(client),
	}}
	messages = append(messages, prompt.History(history, d.opts.ContextTokens)...)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Text,
	})

	if err := turn.advance(AwaitingFirstByte); err != nil {
		return d.abort(ctx, turn, view, nil, err, logger)
	}

	body, err := d.chat.Stream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   d.opts.MaxTokens,
		Temperature: float32(d.opts.Temperature),
	})
	if err != nil {
		return d.abort(ctx, turn, view, nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err), logger)
	}

	acc := stream.NewAccumulator(func(snap stream.Snapshot) {
		if err := turn.advance(Streaming); err != nil {
			logger.Warn("Unexpected turn state", zap.Error(err))
		}
		view.Preview(ctx, snap, showReasoning)
	})
	res, err := acc.Consume(ctx, stream.NewDecoder(body, logger, d.diag), body)
	view.ClearPreview(ctx)

	if err != nil {
		if !errors.Is(err, stream.ErrStreamAborted) || strings.TrimSpace(res.Text) == "" {
			return d.abort(ctx, turn, view, nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err), logger)
		}
		logger.Warn("Stream aborted, keeping partial reply",
			zap.Error(err),
			zap.Int("chars", len(res.Text)))
	}
	if strings.TrimSpace(res.Text) == "" {
		return d.abort(ctx, turn, view, nil, ErrEmptyResponse, logger)
	}

	userMsg := &models.ChatMessage{Role: models.RoleUser, Content: req.Text}
	reply := &models.ChatMessage{Role: models.RoleAssistant, Content: res.Text, Reasoning: res.Reasoning}
	if err := d.persist(ctx, req.SessionID, userMsg, reply); err != nil {
		return d.abort(ctx, turn, view, nil, err, logger)
	}

	if err := turn.advance(Finished); err != nil {
		logger.Warn("Unexpected turn state", zap.Error(err))
	}
	if err := view.Show(ctx, *reply); err != nil {
		logger.Error("Failed to show reply", zap.Error(err))
	}

	if isFirstExchange(history) {
		d.generateTitle(ctx, req.SessionID, req.Text, res.Text, logger)
	}
	return nil
}

func (d *Dispatcher) runMedia(ctx context.Context, turn *Turn, req TurnRequest, client *models.Client, intent models.Intent, view View, logger *zap.Logger) error {
	if err := turn.advance(AwaitingFirstByte); err != nil {
		return d.abort(ctx, turn, view, nil, err, logger)
	}

	var pending *Placeholder
	if p, err := view.ShowPending(ctx, intent); err != nil {
		logger.Warn("Failed to show placeholder", zap.Error(err))
	} else {
		pending = &p
	}

	reply, err := d.generate(ctx, req, client, intent)
	if err != nil {
		return d.abort(ctx, turn, view, pending, err, logger)
	}

	userMsg := &models.ChatMessage{Role: models.RoleUser, Content: userContent(req, intent)}
	if req.Image != nil {
		userMsg.Image = req.Image.URL
	}
	if err := d.persist(ctx, req.SessionID, userMsg, reply); err != nil {
		return d.abort(ctx, turn, view, pending, err, logger)
	}

	if err := turn.advance(Finished); err != nil {
		logger.Warn("Unexpected turn state", zap.Error(err))
	}
	if pending != nil {
		err = view.Resolve(ctx, *pending, *reply)
	} else {
		err = view.Show(ctx, *reply)
	}
	if err != nil {
		logger.Error("Failed to show result", zap.Error(err))
	}
	return nil
}

// generate performs the single external call of a media turn.
func (d *Dispatcher) generate(ctx context.Context, req TurnRequest, client *models.Client, intent models.Intent) (*models.ChatMessage, error) {
	switch intent.Kind {
	case models.IntentImageGeneration:
		return d.generateImage(ctx, req, intent)

	case models.IntentStory:
		text, err := d.chat.Complete(ctx, openai.ChatCompletionRequest{
			Model:       d.opts.ChatModel,
			Messages:    d.prompts.StoryMessages(client, intent.Category, req.Text),
			MaxTokens:   d.opts.MaxTokens,
			Temperature: float32(d.opts.Temperature),
		})
		if err != nil {
			return nil, completionError(err)
		}
		return &models.ChatMessage{Role: models.RoleAssistant, Content: text}, nil

	case models.IntentImageAction:
		text, err := d.chat.Complete(ctx, openai.ChatCompletionRequest{
			Model:     d.opts.VisionModel,
			Messages:  d.prompts.ImageActionMessages(client, intent.Action, req.Image, req.Text),
			MaxTokens: d.opts.MaxTokens,
		})
		if err != nil {
			return nil, completionError(err)
		}
		return &models.ChatMessage{Role: models.RoleAssistant, Content: text}, nil
	}
	return nil, fmt.Errorf("%w: unsupported intent %s", ErrGenerationFailed, intent.Kind)
}

func (d *Dispatcher) generateImage(ctx context.Context, req TurnRequest, intent models.Intent) (*models.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.ImageTimeout)
	defer cancel()

	imgReq := llm.ImageRequest{
		Prompt: intent.Prompt,
		Model:  d.opts.ImageModel,
		Width:  d.opts.ImageWidth,
		Height: d.opts.ImageHeight,
	}
	if req.Reference != nil {
		imgReq.ReferenceImageBase64 = req.Reference.Base64
	}

	res, err := d.images.Generate(ctx, imgReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrGenerationTimeout, d.opts.ImageTimeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return &models.ChatMessage{
		Role:    models.RoleAssistant,
		Content: intent.Prompt,
		Image:   res.URL,
	}, nil
}

// persist writes the user message and the reply as one exchange. The view
// is only updated after the write is confirmed.
func (d *Dispatcher) persist(ctx context.Context, sessionID string, userMsg, reply *models.ChatMessage) error {
	if err := d.store.AppendExchange(ctx, sessionID, userMsg, reply); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return nil
}

// abort marks the turn failed and reports err to the view, leaving the
// session ready for the next turn.
func (d *Dispatcher) abort(ctx context.Context, turn *Turn, view View, pending *Placeholder, err error, logger *zap.Logger) error {
	turn.fail(err)
	logger.Error("Turn failed", zap.Error(err), zap.Stringer("state", turn.State()))
	view.Fail(ctx, pending, err)
	view.Notify(ctx, err)
	return err
}

func completionError(err error) error {
	if errors.Is(err, llm.ErrEmptyCompletion) {
		return ErrEmptyResponse
	}
	return fmt.Errorf("%w: %w", ErrGenerationFailed, err)
}

func userContent(req TurnRequest, intent models.Intent) string {
	if text := strings.TrimSpace(req.Text); text != "" {
		return text
	}
	switch intent.Kind {
	case models.IntentStory:
		return "Ideias de story: " + prompt.StoryCategoryLabel(intent.Category)
	case models.IntentImageAction:
		return prompt.ImageActionLabel(intent.Action)
	}
	return ""
}

func isFirstExchange(history []*models.ChatMessage) bool {
	for _, m := range history {
		if m.Role == models.RoleUser {
			return false
		}
	}
	return true
}
