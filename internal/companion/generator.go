// Package companion turns a conversation into the next reply of the Xoe
// persona.
package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"companion-chat/internal/domain"
)

type chatClient interface {
	Chat(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

type Generator struct {
	client  chatClient
	timeout time.Duration
}

type Option func(*Generator)

// WithTimeout bounds a single generation call.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		g.timeout = d
	}
}

func NewGenerator(client chatClient, opts ...Option) (*Generator, error) {
	if client == nil {
		return nil, errors.New("companion: chat client must not be nil")
	}
	g := &Generator{client: client}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate produces the persona's reply to history. userName defaults to
// "User"; profile may be nil.
func (g *Generator) Generate(ctx context.Context, history []domain.Message, userName string, profile *domain.Profile) (string, error) {
	if userName == "" {
		userName = "User"
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := g.client.Chat(ctx, buildPromptMessages(history, userName, profile))
	if err != nil {
		return "", fmt.Errorf("companion: Generate: %w", err)
	}
	slog.Debug("companion: reply generated", "history", len(history), "duration_ms", time.Since(start).Milliseconds())
	return reply, nil
}
