package assistant

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/agency-assistant/internal/models"
)

// TurnState is the lifecycle of one in-flight turn.
type TurnState int

const (
	Idle TurnState = iota
	AwaitingFirstByte
	Streaming
	Finished
	Failed
)

func (s TurnState) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingFirstByte:
		return "awaiting_first_byte"
	case Streaming:
		return "streaming"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[TurnState][]TurnState{
	Idle:              {AwaitingFirstByte, Failed},
	AwaitingFirstByte: {Streaming, Finished, Failed},
	Streaming:         {Finished, Failed},
}

// Turn tracks one user turn from dispatch to its final message.
type Turn struct {
	ID        string
	SessionID string
	StartedAt time.Time

	mu     sync.Mutex
	state  TurnState
	intent models.Intent
	err    error
}

func newTurn(sessionID string) *Turn {
	return &Turn{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		StartedAt: time.Now(),
		state:     Idle,
	}
}

func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Turn) Intent() models.Intent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.intent
}

func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Turn) setIntent(intent models.Intent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.intent = intent
}

func (t *Turn) advance(to TurnState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == to {
		return nil
	}
	for _, allowed := range transitions[t.state] {
		if allowed == to {
			t.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, to)
}

// fail moves the turn to Failed from any non-terminal state.
func (t *Turn) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Finished || t.state == Failed {
		return
	}
	t.state = Failed
	t.err = err
}

// turnRegistry holds the running turn of each session.
type turnRegistry struct {
	mu     sync.Mutex
	active map[string]*Turn
}

func newTurnRegistry() *turnRegistry {
	return &turnRegistry{active: make(map[string]*Turn)}
}

// begin registers t unless its session already has a running turn.
func (r *turnRegistry) begin(t *Turn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[t.SessionID]; busy {
		return false
	}
	r.active[t.SessionID] = t
	return true
}

func (r *turnRegistry) end(t *Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[t.SessionID] == t {
		delete(r.active, t.SessionID)
	}
}

func (r *turnRegistry) get(sessionID string) (*Turn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.active[sessionID]
	return t, ok
}
