package models

import "time"

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatSession is one conversation thread of one client.
type ChatSession struct {
	ID        string    `json:"id"`
	ClientID  int64     `json:"client_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessage is one turn of a session. Only Role, Content and Image are
// durable; Reasoning, Pending and CategoryPrompt exist for rendering.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Image     string    `json:"image,omitempty"`
	Reasoning *string   `json:"-"`
	CreatedAt time.Time `json:"created_at"`

	Pending        bool `json:"-"`
	CategoryPrompt bool `json:"-"`
}

// Durable returns a copy of the message without the render-only fields.
func (m ChatMessage) Durable() ChatMessage {
	m.Reasoning = nil
	m.Pending = false
	m.CategoryPrompt = false
	return m
}

// Attachment is an image the client sent along with a turn.
type Attachment struct {
	// URL is a hosted URL or a data URI.
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	// Base64 holds the raw image when it was downloaded locally.
	Base64 string `json:"-"`
}

// Personality customizes how the assistant talks to one client.
type Personality struct {
	AssistantName string `json:"assistant_name"`
	Tone          string `json:"tone"`
	UseEmojis     bool   `json:"use_emojis"`
	Instructions  string `json:"instructions"`
}

// Merge returns p with empty fields filled from defaults.
func (p Personality) Merge(defaults Personality) Personality {
	out := p
	if out.AssistantName == "" {
		out.AssistantName = defaults.AssistantName
	}
	if out.Tone == "" {
		out.Tone = defaults.Tone
	}
	if out.Instructions == "" {
		out.Instructions = defaults.Instructions
	}
	return out
}

// Client is an agency client using the assistant.
type Client struct {
	ID              int64       `json:"id"`
	Name            string      `json:"name"`
	Business        string      `json:"business"`
	Personality     Personality `json:"personality"`
	ActiveSessionID string      `json:"active_session_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	LastUsedAt      time.Time   `json:"last_used_at"`
}
