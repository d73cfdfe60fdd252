// Package persona serves the server-side persona data of a user and advances
// the relationship stage from the amount of conversation so far.
package persona

import (
	"context"
	"errors"
	"strings"
	"time"

	"companion-chat/internal/domain"
	"companion-chat/internal/repository"
)

const recentMessageLimit = 50

// Stage thresholds are exclusive lower bounds on the message count.
const (
	acquaintanceAfter = 50
	datingAfter       = 200
	committedAfter    = 500
)

type Store interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
	RecentUserMessages(ctx context.Context, userID string, limit int) ([]domain.Message, error)
	CountUserMessages(ctx context.Context, userID string) (int, error)
	UpdateRelationshipStage(ctx context.Context, userID, stage string) error
}

type Service struct {
	store Store
}

// RecentMessage is the trimmed message view returned with persona data.
type RecentMessage struct {
	Content string      `json:"content"`
	Role    domain.Role `json:"role"`
	SentAt  time.Time   `json:"sent_at"`
}

type Data struct {
	Profile        *domain.Profile `json:"profile"`
	RecentMessages []RecentMessage `json:"recentMessages"`
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("persona: store must not be nil")
	}
	return &Service{store: store}, nil
}

// StageFor maps a total message count to a relationship stage.
func StageFor(count int) string {
	switch {
	case count > committedAfter:
		return domain.StageCommitted
	case count > datingAfter:
		return domain.StageDating
	case count > acquaintanceAfter:
		return domain.StageAcquaintance
	default:
		return domain.StageNew
	}
}

// GetPersonaData returns the user's profile, or nil when none exists, and the
// 50 most recent messages newest first.
func (s *Service) GetPersonaData(ctx context.Context, userID string) (Data, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Data{}, newError(ErrorInvalidInput, "empty_user_id", nil)
	}

	var profile *domain.Profile
	p, err := s.store.GetProfile(ctx, userID)
	switch {
	case err == nil:
		profile = &p
	case errors.Is(err, repository.ErrNotFound):
	default:
		return Data{}, newError(ErrorInternal, "profile_read_error", err)
	}

	msgs, err := s.store.RecentUserMessages(ctx, userID, recentMessageLimit)
	if err != nil {
		return Data{}, newError(ErrorInternal, "messages_read_error", err)
	}
	recent := make([]RecentMessage, 0, len(msgs))
	for _, m := range msgs {
		recent = append(recent, RecentMessage{Content: m.Content, Role: m.Role, SentAt: m.SentAt})
	}
	return Data{Profile: profile, RecentMessages: recent}, nil
}

// UpdateRelationshipStage recomputes and stores the user's stage.
func (s *Service) UpdateRelationshipStage(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", newError(ErrorInvalidInput, "empty_user_id", nil)
	}
	count, err := s.store.CountUserMessages(ctx, userID)
	if err != nil {
		return "", newError(ErrorInternal, "messages_count_error", err)
	}
	stage := StageFor(count)
	if err := s.store.UpdateRelationshipStage(ctx, userID, stage); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", newError(ErrorNotFound, "profile_not_found", err)
		}
		return "", newError(ErrorInternal, "stage_write_error", err)
	}
	return stage, nil
}
