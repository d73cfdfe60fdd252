package domain

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Status separates a placeholder reply from a finished message.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPending  Status = "pending"
)

const previewLength = 50

// ChatSession is one conversation thread.
type ChatSession struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastMessage string    `json:"lastMessage"`
	LastUpdated time.Time `json:"lastUpdated"`
	UserID      string    `json:"userId"`
}

// Message is a single entry of a session's log.
type Message struct {
	ID      string
	Content string
	Role    Role
	SentAt  time.Time
	UserID  string
	Status  Status
}

// messageJSON is the stored shape; pending messages carry isLoading.
type messageJSON struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	SentAt    time.Time `json:"sentAt"`
	UserID    string    `json:"userId,omitempty"`
	IsLoading bool      `json:"isLoading,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		ID:        m.ID,
		Content:   m.Content,
		Role:      m.Role,
		SentAt:    m.SentAt,
		UserID:    m.UserID,
		IsLoading: m.IsLoading(),
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{
		ID:      raw.ID,
		Content: raw.Content,
		Role:    raw.Role,
		SentAt:  raw.SentAt,
		UserID:  raw.UserID,
		Status:  StatusComplete,
	}
	if raw.IsLoading {
		m.Status = StatusPending
	}
	return nil
}

// IsLoading reports whether m stands in for an in-flight reply.
func (m Message) IsLoading() bool {
	return m.Status == StatusPending
}

// Pending returns an empty AI placeholder with the given id.
func Pending(id string, sentAt time.Time) Message {
	return Message{ID: id, Role: RoleAI, SentAt: sentAt, Status: StatusPending}
}

// Complete returns m with its content set and the pending status cleared.
func (m Message) Complete(content string, sentAt time.Time) Message {
	m.Content = content
	m.SentAt = sentAt
	m.Status = StatusComplete
	return m
}

// Preview truncates s to the session summary length, counting runes.
func Preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLength {
		return s
	}
	return string(r[:previewLength]) + "..."
}
