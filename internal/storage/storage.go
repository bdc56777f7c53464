package storage

import (
	"context"
	"errors"

	"github.com/xaenox/agency-assistant/internal/models"
)

var ErrNotFound = errors.New("not found")

// Storage is the durable store for sessions, messages and client profiles.
type Storage interface {
	SessionStorage
	MessageStorage

	GetClient(ctx context.Context, clientID int64) (*models.Client, error)
	SaveClient(ctx context.Context, client *models.Client) error
	Close() error
}

type SessionStorage interface {
	CreateSession(ctx context.Context, clientID int64, title string) (*models.ChatSession, error)
	GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error)
	// ListSessions returns the client's sessions, newest first.
	ListSessions(ctx context.Context, clientID int64) ([]*models.ChatSession, error)
	UpdateSessionTitle(ctx context.Context, sessionID, title string) error
	// DeleteSession removes the session and all of its messages.
	DeleteSession(ctx context.Context, sessionID string) error
}

type MessageStorage interface {
	// AppendMessage stores msg, assigning ID and CreatedAt when empty.
	AppendMessage(ctx context.Context, sessionID string, msg *models.ChatMessage) error
	// AppendExchange stores a user message and its reply atomically: either
	// both are stored, in that order, or neither is.
	AppendExchange(ctx context.Context, sessionID string, user, reply *models.ChatMessage) error
	// ListMessages returns the session's messages in insertion order.
	ListMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error)
}
