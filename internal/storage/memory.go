package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/agency-assistant/internal/models"
)

type MemoryStorage struct {
	mu       sync.RWMutex
	clients  map[int64]*models.Client
	sessions map[string]*models.ChatSession
	messages map[string][]*models.ChatMessage
	now      func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		clients:  make(map[int64]*models.Client),
		sessions: make(map[string]*models.ChatSession),
		messages: make(map[string][]*models.ChatMessage),
		now:      time.Now,
	}
}

// Client methods
func (s *MemoryStorage) GetClient(ctx context.Context, clientID int64) (*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if client, exists := s.clients[clientID]; exists {
		c := *client
		return &c, nil
	}
	return &models.Client{
		ID:          clientID,
		Personality: models.Personality{UseEmojis: true},
		CreatedAt:   s.now(),
		LastUsedAt:  s.now(),
	}, nil
}

func (s *MemoryStorage) SaveClient(ctx context.Context, client *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *client
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.LastUsedAt = s.now()
	s.clients[client.ID] = &c
	return nil
}

// Session methods
func (s *MemoryStorage) CreateSession(ctx context.Context, clientID int64, title string) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := &models.ChatSession{
		ID:        uuid.New().String(),
		ClientID:  clientID,
		Title:     title,
		CreatedAt: s.now(),
	}
	s.sessions[session.ID] = session
	out := *session
	return &out, nil
}

func (s *MemoryStorage) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	out := *session
	return &out, nil
}

func (s *MemoryStorage) ListSessions(ctx context.Context, clientID int64) ([]*models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.ChatSession, 0)
	for _, session := range s.sessions {
		if session.ClientID == clientID {
			out := *session
			result = append(result, &out)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStorage) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	session.Title = title
	return nil
}

func (s *MemoryStorage) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	for _, client := range s.clients {
		if client.ActiveSessionID == sessionID {
			client.ActiveSessionID = ""
		}
	}
	return nil
}

// Message methods
func (s *MemoryStorage) AppendMessage(ctx context.Context, sessionID string, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	s.prepare(sessionID, msg)

	stored := msg.Durable()
	s.messages[sessionID] = append(s.messages[sessionID], &stored)
	return nil
}

func (s *MemoryStorage) AppendExchange(ctx context.Context, sessionID string, user, reply *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	for _, msg := range []*models.ChatMessage{user, reply} {
		s.prepare(sessionID, msg)
		stored := msg.Durable()
		s.messages[sessionID] = append(s.messages[sessionID], &stored)
	}
	return nil
}

// prepare fills the fields AppendMessage assigns. Callers hold s.mu.
func (s *MemoryStorage) prepare(sessionID string, msg *models.ChatMessage) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	msg.SessionID = sessionID
}

func (s *MemoryStorage) ListMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[sessionID]
	result := make([]*models.ChatMessage, len(stored))
	for i, m := range stored {
		out := *m
		result[i] = &out
	}
	return result, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
