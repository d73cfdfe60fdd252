package chat

import (
	"context"
	"errors"
	"time"

	"companion-chat/internal/domain"
)

var (
	ErrSessionNotFound = errors.New("chat: session not found")
	ErrReplyInFlight   = errors.New("chat: a reply is already in flight for this session")
)

// ConversationStore persists sessions and their message logs. The remote
// (DynamoDB) and local (SQLite) stores both implement it.
type ConversationStore interface {
	ListSessions(ctx context.Context, userID string) ([]domain.ChatSession, error)
	CreateSession(ctx context.Context, s domain.ChatSession) error
	UpdateSessionSummary(ctx context.Context, sessionID, lastMessage string, lastUpdated time.Time) error
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
	AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error
}

// summaryAppender is implemented by stores that can write a message and the
// session summary in one operation.
type summaryAppender interface {
	AppendMessageWithSummary(ctx context.Context, sessionID string, msg domain.Message, lastMessage string, lastUpdated time.Time) error
}

// record appends msg and moves the session summary to it.
func record(ctx context.Context, store ConversationStore, sessionID string, msg domain.Message, summary string) error {
	if a, ok := store.(summaryAppender); ok {
		return a.AppendMessageWithSummary(ctx, sessionID, msg, summary, msg.SentAt)
	}
	if err := store.AppendMessage(ctx, sessionID, msg); err != nil {
		return err
	}
	return store.UpdateSessionSummary(ctx, sessionID, summary, msg.SentAt)
}
