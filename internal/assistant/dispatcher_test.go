package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/agency-assistant/internal/classifier"
	"github.com/xaenox/agency-assistant/internal/llm"
	"github.com/xaenox/agency-assistant/internal/models"
	"github.com/xaenox/agency-assistant/internal/prompt"
	"github.com/xaenox/agency-assistant/internal/storage"
	"github.com/xaenox/agency-assistant/internal/stream"
	"go.uber.org/zap/zaptest"
)

type fakeChat struct {
	mu       sync.Mutex
	stream   func() (io.ReadCloser, error)
	complete func(req openai.ChatCompletionRequest) (string, error)
	streamed []openai.ChatCompletionRequest
}

func (f *fakeChat) Stream(ctx context.Context, req openai.ChatCompletionRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.streamed = append(f.streamed, req)
	f.mu.Unlock()
	return f.stream()
}

func (f *fakeChat) Complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	if f.complete == nil {
		return "", llm.ErrEmptyCompletion
	}
	return f.complete(req)
}

func streamOf(body string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

type fakeImages struct {
	generate func(ctx context.Context, req llm.ImageRequest) (*llm.ImageResult, error)
	calls    int
}

func (f *fakeImages) Generate(ctx context.Context, req llm.ImageRequest) (*llm.ImageResult, error) {
	f.calls++
	return f.generate(ctx, req)
}

// recordingView logs every call in order.
type recordingView struct {
	mu       sync.Mutex
	events   []string
	previews []stream.Snapshot
	shown    []models.ChatMessage
	failures []error
}

func (v *recordingView) record(e string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = append(v.events, e)
}

func (v *recordingView) ShowPending(ctx context.Context, intent models.Intent) (Placeholder, error) {
	v.record("pending:" + intent.Kind.String())
	return Placeholder{ID: "p1"}, nil
}

func (v *recordingView) Resolve(ctx context.Context, p Placeholder, msg models.ChatMessage) error {
	v.record("resolve:" + p.ID)
	v.mu.Lock()
	v.shown = append(v.shown, msg)
	v.mu.Unlock()
	return nil
}

func (v *recordingView) Fail(ctx context.Context, p *Placeholder, err error) {
	if p != nil {
		v.record("fail:" + p.ID)
	} else {
		v.record("fail")
	}
	v.mu.Lock()
	v.failures = append(v.failures, err)
	v.mu.Unlock()
}

func (v *recordingView) Notify(ctx context.Context, err error) {
	v.record("notify")
}

func (v *recordingView) Preview(ctx context.Context, snap stream.Snapshot, showReasoning bool) {
	v.record("preview")
	v.mu.Lock()
	v.previews = append(v.previews, snap)
	v.mu.Unlock()
}

func (v *recordingView) ClearPreview(ctx context.Context) {
	v.record("clear")
}

func (v *recordingView) Show(ctx context.Context, msg models.ChatMessage) error {
	v.record("show")
	v.mu.Lock()
	v.shown = append(v.shown, msg)
	v.mu.Unlock()
	return nil
}

func (v *recordingView) Events() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.events...)
}

// failingStore rejects exchanges while fail is set.
type failingStore struct {
	*storage.MemoryStorage
	fail bool
}

func (s *failingStore) AppendExchange(ctx context.Context, sessionID string, user, reply *models.ChatMessage) error {
	if s.fail {
		return errors.New("connection refused")
	}
	return s.MemoryStorage.AppendExchange(ctx, sessionID, user, reply)
}

type harness struct {
	store  *failingStore
	chat   *fakeChat
	images *fakeImages
	disp   *Dispatcher
	sessID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := &failingStore{MemoryStorage: storage.NewMemoryStorage()}
	sess, err := store.CreateSession(context.Background(), 42, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	h := &harness{
		store:  store,
		chat:   &fakeChat{},
		images: &fakeImages{},
		sessID: sess.ID,
	}
	clf := classifier.NewIntentClassifier(classifier.NewRuleClassifier(25, 3), nil, logger)
	prompts := prompt.NewBuilder("Agência Teste", models.Personality{AssistantName: "Ana", Tone: "leve"})
	h.disp = NewDispatcher(store, clf, h.chat, h.images, prompts, Options{
		ChatModel:     "gpt-4o",
		VisionModel:   "gpt-4o",
		TitleModel:    "gpt-4o-mini",
		ImageModel:    "dall-e-3",
		ImageWidth:    1024,
		ImageHeight:   1024,
		ImageTimeout:  time.Second,
		ContextTokens: 2000,
		HistoryWindow: 3,
	}, stream.NewDiagnostics(), logger)
	return h
}

func (h *harness) messages(t *testing.T) []*models.ChatMessage {
	t.Helper()
	msgs, err := h.store.ListMessages(context.Background(), h.sessID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return msgs
}

func (h *harness) send(text string, view View) error {
	return h.disp.Send(context.Background(), TurnRequest{ClientID: 42, SessionID: h.sessID, Text: text}, view)
}

func TestSendPlainChatStreamsAndPersists(t *testing.T) {
	h := newHarness(t)
	h.chat.stream = streamOf("data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n" +
		"data: [DONE]\n")
	h.chat.complete = func(req openai.ChatCompletionRequest) (string, error) {
		return "\"Saudação inicial\".", nil
	}

	view := &recordingView{}
	if err := h.send("oi, tudo bem?", view); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.disp.Wait()

	want := []string{"preview", "preview", "clear", "show"}
	if got := view.Events(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
	if view.previews[1].Text != "Hello" {
		t.Errorf("last preview = %q", view.previews[1].Text)
	}

	msgs := h.messages(t)
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "oi, tudo bem?" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Content != "Hello" {
		t.Errorf("second message = %+v", msgs[1])
	}
	if msgs[1].Reasoning != nil {
		t.Errorf("Reasoning = %q, want nil", *msgs[1].Reasoning)
	}

	sess, _ := h.store.GetSession(context.Background(), h.sessID)
	if sess.Title != "Saudação inicial" {
		t.Errorf("Title = %q", sess.Title)
	}

	req := h.chat.streamed[0]
	if req.Messages[0].Role != openai.ChatMessageRoleSystem || !strings.Contains(req.Messages[0].Content, "Ana") {
		t.Errorf("system message = %+v", req.Messages[0])
	}
	if last := req.Messages[len(req.Messages)-1]; last.Content != "oi, tudo bem?" {
		t.Errorf("last message = %+v", last)
	}
}

func TestSendEmptyStreamPersistsNothing(t *testing.T) {
	h := newHarness(t)
	h.chat.stream = streamOf("data: [DONE]\n")

	view := &recordingView{}
	err := h.send("Oi", view)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
	if msgs := h.messages(t); len(msgs) != 0 {
		t.Errorf("persisted %d messages, want none", len(msgs))
	}
	if len(view.failures) != 1 || !errors.Is(view.failures[0], ErrEmptyResponse) {
		t.Errorf("failures = %v", view.failures)
	}
	if _, active := h.disp.Active(h.sessID); active {
		t.Error("session should be free after a failed turn")
	}
}

func TestSendKeepsPartialReplyOnAbort(t *testing.T) {
	h := newHarness(t)
	h.chat.stream = func() (io.ReadCloser, error) {
		r := io.MultiReader(
			strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"meia resposta\"}}]}\n"),
			iotest.ErrReader(errors.New("connection reset")),
		)
		return io.NopCloser(r), nil
	}

	view := &recordingView{}
	if err := h.send("me explica algo", view); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.disp.Wait()

	msgs := h.messages(t)
	if len(msgs) != 2 || msgs[1].Content != "meia resposta" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestSendAbortWithoutTextFails(t *testing.T) {
	h := newHarness(t)
	h.chat.stream = func() (io.ReadCloser, error) {
		return io.NopCloser(iotest.ErrReader(errors.New("connection reset"))), nil
	}

	err := h.send("oi", &recordingView{})
	if !errors.Is(err, ErrGenerationFailed) || !errors.Is(err, stream.ErrStreamAborted) {
		t.Fatalf("err = %v", err)
	}
	if msgs := h.messages(t); len(msgs) != 0 {
		t.Errorf("persisted %d messages, want none", len(msgs))
	}
}

func TestSendKeepsReasoning(t *testing.T) {
	h := newHarness(t)
	h.chat.stream = streamOf("data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"pensando\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"pronto\"}}]}\n" +
		"data: [DONE]\n")

	view := &recordingView{}
	if err := h.send("oi", view); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.disp.Wait()

	if len(view.shown) != 1 || view.shown[0].Reasoning == nil || *view.shown[0].Reasoning != "pensando" {
		t.Errorf("shown = %+v", view.shown)
	}
	msgs := h.messages(t)
	if len(msgs) != 2 || msgs[1].Content != "pronto" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[1].Reasoning != nil {
		t.Errorf("stored Reasoning = %q, want nil", *msgs[1].Reasoning)
	}
}

func TestSendPersistFailureStoresNothing(t *testing.T) {
	h := newHarness(t)
	h.chat.stream = streamOf("data: {\"choices\":[{\"delta\":{\"content\":\"Olá\"}}]}\n" +
		"data: [DONE]\n")
	h.store.fail = true

	view := &recordingView{}
	err := h.send("oi", view)
	if !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("err = %v, want ErrPersistFailed", err)
	}
	if msgs := h.messages(t); len(msgs) != 0 {
		t.Errorf("persisted %d messages, want none", len(msgs))
	}
	if len(view.shown) != 0 {
		t.Errorf("shown = %+v, want nothing", view.shown)
	}
	if len(view.failures) != 1 || !errors.Is(view.failures[0], ErrPersistFailed) {
		t.Errorf("failures = %v", view.failures)
	}

	h.store.fail = false
	if err := h.send("oi", &recordingView{}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	h.disp.Wait()
	if msgs := h.messages(t); len(msgs) != 2 {
		t.Errorf("persisted %d messages after retry, want 2", len(msgs))
	}
}

func TestNewDispatcherDefaultsImageTimeout(t *testing.T) {
	d := NewDispatcher(storage.NewMemoryStorage(), nil, &fakeChat{}, &fakeImages{}, nil, Options{}, nil, zaptest.NewLogger(t))
	if d.opts.ImageTimeout != 60*time.Second {
		t.Errorf("ImageTimeout = %v, want 60s", d.opts.ImageTimeout)
	}
}

func TestSendRejectsConcurrentTurn(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	started := make(chan struct{})
	h.chat.stream = func() (io.ReadCloser, error) {
		close(started)
		<-release
		return io.NopCloser(strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\ndata: [DONE]\n")), nil
	}

	done := make(chan error, 1)
	go func() { done <- h.send("primeira", &recordingView{}) }()
	<-started

	if state, active := h.disp.Active(h.sessID); !active || state != AwaitingFirstByte {
		t.Errorf("Active = %v, %v", state, active)
	}
	if err := h.send("segunda", &recordingView{}); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("err = %v, want ErrTurnInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first turn: %v", err)
	}
	h.disp.Wait()

	if msgs := h.messages(t); len(msgs) != 2 {
		t.Errorf("persisted %d messages, want 2", len(msgs))
	}
}

func TestSendEmptyInput(t *testing.T) {
	h := newHarness(t)
	if err := h.send("   ", &recordingView{}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("err = %v, want ErrEmptyInput", err)
	}
}

func TestSendImageGeneration(t *testing.T) {
	h := newHarness(t)
	h.images.generate = func(ctx context.Context, req llm.ImageRequest) (*llm.ImageResult, error) {
		if !strings.Contains(req.Prompt, "cachorro") || req.Model != "dall-e-3" {
			t.Errorf("request = %+v", req)
		}
		return &llm.ImageResult{URL: "https://img.example.com/dog.png"}, nil
	}

	view := &recordingView{}
	if err := h.send("Gere uma imagem de um cachorro", view); err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := []string{"pending:image_generation", "resolve:p1"}
	if got := view.Events(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
	if len(h.chat.streamed) != 0 {
		t.Error("image turn must not call the chat stream")
	}
	msgs := h.messages(t)
	if len(msgs) != 2 || msgs[1].Image != "https://img.example.com/dog.png" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestSendImageFailureReplacesPlaceholder(t *testing.T) {
	h := newHarness(t)
	h.images.generate = func(ctx context.Context, req llm.ImageRequest) (*llm.ImageResult, error) {
		return nil, fmt.Errorf("%w: nsfw", llm.ErrImageRejected)
	}

	view := &recordingView{}
	err := h.send("Gere uma imagem de um cachorro", view)
	if !errors.Is(err, ErrGenerationFailed) || !errors.Is(err, llm.ErrImageRejected) {
		t.Fatalf("err = %v", err)
	}
	want := []string{"pending:image_generation", "fail:p1", "notify"}
	if got := view.Events(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
	if msgs := h.messages(t); len(msgs) != 0 {
		t.Errorf("persisted %d messages, want none", len(msgs))
	}
}

func TestSendImageTimeout(t *testing.T) {
	h := newHarness(t)
	h.disp.opts.ImageTimeout = 20 * time.Millisecond
	h.images.generate = func(ctx context.Context, req llm.ImageRequest) (*llm.ImageResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	err := h.send("Gere uma imagem de um cachorro", &recordingView{})
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("err = %v, want ErrGenerationTimeout", err)
	}
}

func TestSendStoryCategory(t *testing.T) {
	h := newHarness(t)
	var got openai.ChatCompletionRequest
	h.chat.complete = func(req openai.ChatCompletionRequest) (string, error) {
		got = req
		return "1. Enquete sobre o produto", nil
	}

	category := models.StorySale
	view := &recordingView{}
	err := h.disp.Send(context.Background(), TurnRequest{ClientID: 42, SessionID: h.sessID, Category: &category}, view)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Model != "gpt-4o" || len(got.Messages) == 0 {
		t.Errorf("request = %+v", got)
	}
	msgs := h.messages(t)
	if len(msgs) != 2 || msgs[1].Content != "1. Enquete sobre o produto" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Content == "" {
		t.Error("user message should describe the chosen category")
	}
	if events := view.Events(); events[0] != "pending:story" {
		t.Errorf("events = %v", events)
	}
}

func TestSendImageWithoutActionFails(t *testing.T) {
	h := newHarness(t)
	err := h.disp.Send(context.Background(), TurnRequest{
		ClientID:  42,
		SessionID: h.sessID,
		Image:     &models.Attachment{URL: "telegram:file/abc"},
	}, &recordingView{})
	if !errors.Is(err, classifier.ErrActionRequired) {
		t.Fatalf("err = %v, want ErrActionRequired", err)
	}
}

func TestSendImageAction(t *testing.T) {
	h := newHarness(t)
	h.chat.complete = func(req openai.ChatCompletionRequest) (string, error) {
		last := req.Messages[len(req.Messages)-1]
		if len(last.MultiContent) == 0 {
			t.Errorf("image action should send the image, got %+v", last)
		}
		return "Legenda pronta", nil
	}

	err := h.disp.Send(context.Background(), TurnRequest{
		ClientID:  42,
		SessionID: h.sessID,
		Image:     &models.Attachment{URL: "telegram:file/abc", MimeType: "image/png", Base64: "aGVsbG8="},
		Action:    models.ImageCaption,
	}, &recordingView{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := h.messages(t)
	if len(msgs) != 2 || msgs[0].Image != "telegram:file/abc" || msgs[1].Content != "Legenda pronta" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestTitleOnlyForFirstExchange(t *testing.T) {
	h := newHarness(t)
	var titles int
	var mu sync.Mutex
	h.chat.stream = streamOf("data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\ndata: [DONE]\n")
	h.chat.complete = func(req openai.ChatCompletionRequest) (string, error) {
		mu.Lock()
		titles++
		mu.Unlock()
		return "Título", nil
	}

	for _, text := range []string{"oi", "tudo bem?"} {
		if err := h.send(text, &recordingView{}); err != nil {
			t.Fatalf("Send: %v", err)
		}
		h.disp.Wait()
	}
	if titles != 1 {
		t.Errorf("title requests = %d, want 1", titles)
	}
}

func TestTitleFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.chat.stream = streamOf("data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\ndata: [DONE]\n")
	h.chat.complete = func(req openai.ChatCompletionRequest) (string, error) {
		return "", llm.ErrRequestFailed
	}

	if err := h.send("oi", &recordingView{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.disp.Wait()
	sess, _ := h.store.GetSession(context.Background(), h.sessID)
	if sess.Title != "" {
		t.Errorf("Title = %q, want empty", sess.Title)
	}
}

func TestTurnTransitions(t *testing.T) {
	turn := newTurn("s")
	if err := turn.advance(Streaming); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Idle -> Streaming: err = %v", err)
	}
	for _, s := range []TurnState{AwaitingFirstByte, Streaming, Streaming, Finished} {
		if err := turn.advance(s); err != nil {
			t.Fatalf("advance(%s): %v", s, err)
		}
	}
	turn.fail(errors.New("late"))
	if turn.State() != Finished || turn.Err() != nil {
		t.Errorf("terminal state changed: %s, %v", turn.State(), turn.Err())
	}
}

func TestSendUpstreamErrorFrame(t *testing.T) {
	h := newHarness(t)
	h.chat.stream = streamOf("data: {\"error\":{\"message\":\"quota exceeded\"}}\n")

	view := &recordingView{}
	err := h.send("oi", view)
	if !errors.Is(err, ErrGenerationFailed) || !errors.Is(err, stream.ErrUpstream) {
		t.Fatalf("err = %v", err)
	}
	if got := view.Events(); strings.Join(got, ",") != "clear,fail,notify" {
		t.Errorf("events = %v", got)
	}
}
