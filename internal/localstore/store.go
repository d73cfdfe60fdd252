package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"companion-chat/internal/domain"
)

// Fixed keys of the local ephemeral store.
const (
	KeyGuestUser     = "guestUser"
	KeyGuestSessions = "guestSessions"
	KeyVoiceEnabled  = "voiceEnabled"
	KeyAuthSession   = "authSession"
	messagesPrefix   = "messages_"
)

// MessagesKey returns the key holding the message array of a session.
func MessagesKey(sessionID string) string {
	return messagesPrefix + sessionID
}

// Storage is the raw key-value capability, satisfied by *KV.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Store keeps guest sessions, messages and preferences in local storage.
type Store struct {
	kv Storage
}

// New wraps kv.
func New(kv Storage) (*Store, error) {
	if kv == nil {
		return nil, errors.New("localstore: storage must not be nil")
	}
	return &Store{kv: kv}, nil
}

// ListSessions returns the stored sessions, newest first. userID is ignored:
// the local store only ever belongs to the current tab's user.
func (s *Store) ListSessions(ctx context.Context, _ string) ([]domain.ChatSession, error) {
	sessions, err := s.readSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("localstore: ListSessions: %w", err)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastUpdated.After(sessions[j].LastUpdated)
	})
	return sessions, nil
}

// CreateSession prepends session to the stored array.
func (s *Store) CreateSession(ctx context.Context, session domain.ChatSession) error {
	sessions, err := s.readSessions(ctx)
	if err != nil {
		return fmt.Errorf("localstore: CreateSession: %w", err)
	}
	for _, existing := range sessions {
		if existing.ID == session.ID {
			return fmt.Errorf("localstore: CreateSession: session %q already exists", session.ID)
		}
	}
	sessions = append([]domain.ChatSession{session}, sessions...)
	if err := s.writeJSON(ctx, KeyGuestSessions, sessions); err != nil {
		return fmt.Errorf("localstore: CreateSession: %w", err)
	}
	return nil
}

// UpdateSessionSummary overwrites the two derived fields of a session.
func (s *Store) UpdateSessionSummary(ctx context.Context, sessionID, lastMessage string, lastUpdated time.Time) error {
	sessions, err := s.readSessions(ctx)
	if err != nil {
		return fmt.Errorf("localstore: UpdateSessionSummary: %w", err)
	}
	found := false
	for i := range sessions {
		if sessions[i].ID == sessionID {
			sessions[i].LastMessage = lastMessage
			sessions[i].LastUpdated = lastUpdated
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("localstore: UpdateSessionSummary: session %q: %w", sessionID, ErrNotFound)
	}
	if err := s.writeJSON(ctx, KeyGuestSessions, sessions); err != nil {
		return fmt.Errorf("localstore: UpdateSessionSummary: %w", err)
	}
	return nil
}

// ListMessages returns a session's messages ordered by sentAt.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var msgs []domain.Message
	if err := s.readJSON(ctx, MessagesKey(sessionID), &msgs); err != nil {
		return nil, fmt.Errorf("localstore: ListMessages: %w", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
	return msgs, nil
}

// AppendMessage adds msg to the session's array. Pending placeholders are
// never stored.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	if msg.IsLoading() {
		return errors.New("localstore: AppendMessage: pending messages are not persisted")
	}
	var msgs []domain.Message
	if err := s.readJSON(ctx, MessagesKey(sessionID), &msgs); err != nil {
		return fmt.Errorf("localstore: AppendMessage: %w", err)
	}
	msgs = append(msgs, msg)
	if err := s.writeJSON(ctx, MessagesKey(sessionID), msgs); err != nil {
		return fmt.Errorf("localstore: AppendMessage: %w", err)
	}
	return nil
}

// GuestUser returns the stored guest identity.
func (s *Store) GuestUser(ctx context.Context) (domain.User, bool, error) {
	raw, err := s.kv.Get(ctx, KeyGuestUser)
	if errors.Is(err, ErrNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	var u domain.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return domain.User{}, false, fmt.Errorf("localstore: decode guest user: %w", err)
	}
	return u, true, nil
}

func (s *Store) SaveGuestUser(ctx context.Context, u domain.User) error {
	return s.writeJSON(ctx, KeyGuestUser, u)
}

func (s *Store) DeleteGuestUser(ctx context.Context) error {
	return s.kv.Delete(ctx, KeyGuestUser)
}

// AuthToken returns the stored durable session token, if any.
func (s *Store) AuthToken(ctx context.Context) (string, bool, error) {
	raw, err := s.kv.Get(ctx, KeyAuthSession)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return raw, raw != "", nil
}

func (s *Store) SaveAuthToken(ctx context.Context, token string) error {
	return s.kv.Set(ctx, KeyAuthSession, token)
}

func (s *Store) DeleteAuthToken(ctx context.Context) error {
	return s.kv.Delete(ctx, KeyAuthSession)
}

// VoiceEnabled returns the voice output preference, defaulting to true.
func (s *Store) VoiceEnabled(ctx context.Context) bool {
	raw, err := s.kv.Get(ctx, KeyVoiceEnabled)
	if err != nil {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func (s *Store) SetVoiceEnabled(ctx context.Context, enabled bool) error {
	return s.kv.Set(ctx, KeyVoiceEnabled, strconv.FormatBool(enabled))
}

func (s *Store) readSessions(ctx context.Context) ([]domain.ChatSession, error) {
	var sessions []domain.ChatSession
	if err := s.readJSON(ctx, KeyGuestSessions, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// readJSON leaves v untouched when key is absent.
func (s *Store) readJSON(ctx context.Context, key string, v any) error {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

func (s *Store) writeJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.kv.Set(ctx, key, string(b))
}
