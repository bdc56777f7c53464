package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xaenox/agency-assistant/internal/models"
)

func newTestStorage() *MemoryStorage {
	s := NewMemoryStorage()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestMemoryStorageSessionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage()

	first, _ := s.CreateSession(ctx, 1, "primeira")
	second, _ := s.CreateSession(ctx, 1, "segunda")
	if _, err := s.CreateSession(ctx, 2, "outro cliente"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sessions, err := s.ListSessions(ctx, 1)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != second.ID || sessions[1].ID != first.ID {
		t.Errorf("order = [%s %s], want newest first", sessions[0].Title, sessions[1].Title)
	}
}

func TestMemoryStorageMessagesInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage()
	sess, _ := s.CreateSession(ctx, 1, "")

	for _, m := range []*models.ChatMessage{
		{Role: models.RoleUser, Content: "oi"},
		{Role: models.RoleAssistant, Content: "olá", Pending: true},
	} {
		if err := s.AppendMessage(ctx, sess.ID, m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if m.ID == "" || m.CreatedAt.IsZero() || m.SessionID != sess.ID {
			t.Errorf("AppendMessage should fill ID, CreatedAt and SessionID: %+v", m)
		}
	}

	msgs, _ := s.ListMessages(ctx, sess.ID)
	if len(msgs) != 2 || msgs[0].Content != "oi" || msgs[1].Content != "olá" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[1].Pending {
		t.Error("render-only flags must not be stored")
	}
}

func TestMemoryStorageAppendUnknownSession(t *testing.T) {
	s := newTestStorage()
	err := s.AppendMessage(context.Background(), "missing", &models.ChatMessage{Role: models.RoleUser, Content: "oi"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStorageAppendExchange(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage()
	sess, _ := s.CreateSession(ctx, 1, "")

	reasoning := "pensando"
	user := &models.ChatMessage{Role: models.RoleUser, Content: "oi"}
	reply := &models.ChatMessage{Role: models.RoleAssistant, Content: "olá", Reasoning: &reasoning}
	if err := s.AppendExchange(ctx, sess.ID, user, reply); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}
	if user.ID == "" || reply.ID == "" || reply.SessionID != sess.ID {
		t.Errorf("AppendExchange should fill ID and SessionID: %+v %+v", user, reply)
	}

	msgs, _ := s.ListMessages(ctx, sess.ID)
	if len(msgs) != 2 || msgs[0].Content != "oi" || msgs[1].Content != "olá" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[1].Reasoning != nil {
		t.Errorf("Reasoning = %q, want nil", *msgs[1].Reasoning)
	}
}

func TestMemoryStorageAppendExchangeUnknownSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage()
	err := s.AppendExchange(ctx, "missing",
		&models.ChatMessage{Role: models.RoleUser, Content: "oi"},
		&models.ChatMessage{Role: models.RoleAssistant, Content: "olá"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if len(s.messages["missing"]) != 0 {
		t.Errorf("stored %d messages for a missing session", len(s.messages["missing"]))
	}
}

func TestMemoryStorageDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage()
	sess, _ := s.CreateSession(ctx, 7, "")
	s.AppendMessage(ctx, sess.ID, &models.ChatMessage{Role: models.RoleUser, Content: "oi"})
	s.SaveClient(ctx, &models.Client{ID: 7, ActiveSessionID: sess.ID})

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSession(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession err = %v, want ErrNotFound", err)
	}
	if msgs, _ := s.ListMessages(ctx, sess.ID); len(msgs) != 0 {
		t.Errorf("messages survived delete: %+v", msgs)
	}
	client, _ := s.GetClient(ctx, 7)
	if client.ActiveSessionID != "" {
		t.Errorf("ActiveSessionID = %q, want cleared", client.ActiveSessionID)
	}
	if err := s.DeleteSession(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStorageClientDefaults(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage()

	client, err := s.GetClient(ctx, 99)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if client.ID != 99 || !client.Personality.UseEmojis {
		t.Errorf("default client = %+v", client)
	}

	client.Business = "padaria"
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient: %v", err)
	}
	client.Business = "mutated after save"

	got, _ := s.GetClient(ctx, 99)
	if got.Business != "padaria" {
		t.Errorf("Business = %q, want stored copy", got.Business)
	}
}

func TestMemoryStorageUpdateTitle(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage()
	sess, _ := s.CreateSession(ctx, 1, "")

	if err := s.UpdateSessionTitle(ctx, sess.ID, "Campanha de maio"); err != nil {
		t.Fatalf("UpdateSessionTitle: %v", err)
	}
	got, _ := s.GetSession(ctx, sess.ID)
	if got.Title != "Campanha de maio" {
		t.Errorf("Title = %q", got.Title)
	}
	if err := s.UpdateSessionTitle(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
