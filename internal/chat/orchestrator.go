// Package chat owns the in-memory conversation state of one client and keeps
// it in step with the conversation store and the reply generator.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"companion-chat/internal/domain"

	"github.com/google/uuid"
)

const (
	DefaultTitle       = "Conversation with Xoe"
	InitialLastMessage = "Start a new conversation"
	Greeting           = "Hi there! I'm Xoe. It's great to meet you! How are you feeling today?"
	Apology            = "I'm sorry, I couldn't generate a response. Please try again."
)

var newUUID = func() string { return uuid.NewString() }

// Generator produces the companion's next reply.
type Generator interface {
	Generate(ctx context.Context, history []domain.Message, userName string, profile *domain.Profile) (string, error)
}

type Orchestrator struct {
	primary   ConversationStore
	fallback  ConversationStore
	generator Generator
	notifier  Notifier
	now       func() time.Time

	mu       sync.Mutex
	user     *domain.User
	profile  *domain.Profile
	sessions []domain.ChatSession
	current  *domain.ChatSession
	messages []domain.Message
	// local holds the sessions kept on the fallback store.
	local map[string]bool
	// inFlight maps a session id to the id of its pending reply.
	inFlight map[string]string
}

type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator builds an Orchestrator over store. fallback is the local
// store that takes over a session whose creation on store failed; pass nil
// when store is already local.
func NewOrchestrator(store, fallback ConversationStore, gen Generator, notifier Notifier, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("chat: conversation store must not be nil")
	}
	if gen == nil {
		return nil, errors.New("chat: generator must not be nil")
	}
	if notifier == nil {
		notifier = logNotifier{}
	}
	o := &Orchestrator{
		primary:   store,
		fallback:  fallback,
		generator: gen,
		notifier:  notifier,
		now:       time.Now,
		local:     map[string]bool{},
		inFlight:  map[string]string{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// SetUser sets the signed-in user and the profile used for personalization.
func (o *Orchestrator) SetUser(user *domain.User, profile *domain.Profile) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if user == nil {
		o.user = nil
	} else {
		u := *user
		o.user = &u
	}
	if profile == nil {
		o.profile = nil
	} else {
		p := *profile
		o.profile = &p
	}
}

// Reset drops all conversation state, including which sessions live on the
// fallback store.
// In-flight replies still persist to their sessions when they finish.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.user = nil
	o.profile = nil
	o.sessions = nil
	o.current = nil
	o.messages = nil
	o.inFlight = map[string]string{}
	o.local = map[string]bool{}
}

// Load lists the user's sessions and opens the newest one, starting a new
// session when there are none. When the sessions cannot be listed the new
// session is kept on the fallback store.
func (o *Orchestrator) Load(ctx context.Context) error {
	o.mu.Lock()
	if o.user == nil {
		o.mu.Unlock()
		return nil
	}
	userID := o.user.ID
	o.mu.Unlock()

	sessions, err := o.primary.ListSessions(ctx, userID)
	if err != nil {
		slog.Error("chat: list sessions failed", "user_id", userID, "err", err)
		o.notifier.Notify(noticeLoadSessionsFailed)
		return o.startSession(ctx, o.fallback != nil)
	}

	o.mu.Lock()
	o.sessions = sessions
	o.mu.Unlock()

	if len(sessions) == 0 {
		return o.StartNewSession(ctx)
	}
	return o.SelectSession(ctx, sessions[0].ID)
}

// StartNewSession creates a session, makes it current and greets the user.
// A session the primary store refuses is kept on the fallback store from then
// on. The session and greeting stay visible even if nothing could be persisted.
func (o *Orchestrator) StartNewSession(ctx context.Context) error {
	return o.startSession(ctx, false)
}

func (o *Orchestrator) startSession(ctx context.Context, onFallback bool) error {
	o.mu.Lock()
	if o.user == nil {
		o.mu.Unlock()
		return nil
	}
	userID := o.user.ID
	o.mu.Unlock()

	store := o.primary
	if onFallback {
		store = o.fallback
	}

	session := domain.ChatSession{
		ID:          newUUID(),
		Title:       DefaultTitle,
		LastMessage: InitialLastMessage,
		LastUpdated: o.now(),
		UserID:      userID,
	}
	if err := store.CreateSession(ctx, session); err != nil {
		slog.Error("chat: create session failed", "session_id", session.ID, "err", err)
		o.notifier.Notify(noticeCreateFailed)
		if !onFallback && o.fallback != nil {
			slog.Warn("chat: remote store unavailable, keeping session locally", "session_id", session.ID)
			onFallback = true
			store = o.fallback
			if err := store.CreateSession(ctx, session); err != nil {
				slog.Error("chat: create session on fallback failed", "session_id", session.ID, "err", err)
			}
		}
	}

	greeting := domain.Message{
		ID:      newUUID(),
		Content: Greeting,
		Role:    domain.RoleAI,
		SentAt:  o.now(),
		UserID:  userID,
		Status:  domain.StatusComplete,
	}
	summary := domain.Preview(Greeting)
	session.LastMessage = summary
	session.LastUpdated = greeting.SentAt

	o.mu.Lock()
	if onFallback {
		o.local[session.ID] = true
	}
	o.sessions = append([]domain.ChatSession{session}, o.sessions...)
	current := session
	o.current = &current
	o.messages = []domain.Message{greeting}
	o.mu.Unlock()

	if err := record(ctx, store, session.ID, greeting, summary); err != nil {
		slog.Error("chat: save greeting failed", "session_id", session.ID, "err", err)
		o.notifier.Notify(noticeSaveFailed)
	}
	return nil
}

// SelectSession makes a loaded session current and loads its messages.
// Unknown ids leave the state untouched.
func (o *Orchestrator) SelectSession(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	idx := o.sessionIndex(sessionID)
	if idx < 0 {
		o.mu.Unlock()
		slog.Warn("chat: select unknown session", "session_id", sessionID)
		o.notifier.Notify(noticeSessionNotFound)
		return ErrSessionNotFound
	}
	selected := o.sessions[idx]
	o.current = &selected
	store := o.storeForLocked(sessionID)
	o.mu.Unlock()

	msgs, err := store.ListMessages(ctx, sessionID)

	o.mu.Lock()
	if o.current == nil || o.current.ID != sessionID {
		// Another selection won the race.
		o.mu.Unlock()
		return nil
	}
	if err != nil {
		o.messages = nil
		o.mu.Unlock()
		slog.Error("chat: list messages failed", "session_id", sessionID, "err", err)
		o.notifier.Notify(noticeLoadMessagesFailed)
		return nil
	}
	if pendingID, ok := o.inFlight[sessionID]; ok {
		msgs = append(msgs, domain.Pending(pendingID, o.now()))
	}
	o.messages = msgs
	o.mu.Unlock()
	return nil
}

// SendMessage runs one exchange: the user message is shown and saved, a
// placeholder stands in for the reply, the reply is generated, shown and
// saved. Failures are reported through the Notifier. It returns
// ErrReplyInFlight when the current session is still waiting for a reply.
func (o *Orchestrator) SendMessage(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	o.mu.Lock()
	if o.user == nil || o.current == nil {
		o.mu.Unlock()
		return nil
	}
	sessionID := o.current.ID
	if _, busy := o.inFlight[sessionID]; busy {
		o.mu.Unlock()
		return ErrReplyInFlight
	}
	user := *o.user
	var profile *domain.Profile
	if o.profile != nil {
		p := *o.profile
		profile = &p
	}

	userMsg := domain.Message{
		ID:      newUUID(),
		Content: content,
		Role:    domain.RoleUser,
		SentAt:  o.now(),
		UserID:  user.ID,
		Status:  domain.StatusComplete,
	}
	o.messages = append(o.messages, userMsg)
	history := append([]domain.Message(nil), o.messages...)
	placeholderID := newUUID()
	o.inFlight[sessionID] = placeholderID
	o.applySummaryLocked(sessionID, content, userMsg.SentAt)
	store := o.storeForLocked(sessionID)
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.inFlight[sessionID] == placeholderID {
			delete(o.inFlight, sessionID)
		}
		o.mu.Unlock()
	}()

	if err := record(ctx, store, sessionID, userMsg, content); err != nil {
		slog.Error("chat: save user message failed", "session_id", sessionID, "err", err)
		o.notifier.Notify(noticeSaveFailed)
	}

	o.mu.Lock()
	if o.isCurrentLocked(sessionID) {
		o.messages = append(o.messages, domain.Pending(placeholderID, o.now()))
	}
	o.mu.Unlock()

	text, err := o.generator.Generate(ctx, history, user.DisplayName(), profile)
	if err != nil {
		slog.Error("chat: generate reply failed", "session_id", sessionID, "err", err)
		o.mu.Lock()
		o.replacePlaceholderLocked(sessionID, domain.Pending(placeholderID, o.now()).Complete(Apology, o.now()))
		o.mu.Unlock()
		o.notifier.Notify(noticeGenerateFailed)
		return nil
	}

	reply := domain.Pending(placeholderID, o.now()).Complete(text, o.now())
	reply.UserID = user.ID
	summary := domain.Preview(text)

	o.mu.Lock()
	o.replacePlaceholderLocked(sessionID, reply)
	o.applySummaryLocked(sessionID, summary, reply.SentAt)
	o.mu.Unlock()

	if err := record(ctx, store, sessionID, reply, summary); err != nil {
		slog.Error("chat: save reply failed", "session_id", sessionID, "err", err)
		o.notifier.Notify(noticeReplySaveFailed)
	}
	return nil
}

// storeForLocked returns the store holding sessionID.
func (o *Orchestrator) storeForLocked(sessionID string) ConversationStore {
	if o.fallback != nil && o.local[sessionID] {
		return o.fallback
	}
	return o.primary
}

func (o *Orchestrator) isCurrentLocked(sessionID string) bool {
	return o.current != nil && o.current.ID == sessionID
}

// replacePlaceholderLocked swaps the pending message with msg, but only
// while sessionID is still the one on screen.
func (o *Orchestrator) replacePlaceholderLocked(sessionID string, msg domain.Message) {
	if !o.isCurrentLocked(sessionID) {
		return
	}
	for i := range o.messages {
		if o.messages[i].ID == msg.ID {
			o.messages[i] = msg
			return
		}
	}
}

func (o *Orchestrator) applySummaryLocked(sessionID, lastMessage string, at time.Time) {
	if idx := o.sessionIndex(sessionID); idx >= 0 {
		o.sessions[idx].LastMessage = lastMessage
		o.sessions[idx].LastUpdated = at
	}
	if o.isCurrentLocked(sessionID) {
		o.current.LastMessage = lastMessage
		o.current.LastUpdated = at
	}
}

func (o *Orchestrator) sessionIndex(sessionID string) int {
	for i, s := range o.sessions {
		if s.ID == sessionID {
			return i
		}
	}
	return -1
}

// Messages returns a copy of the current session's messages.
func (o *Orchestrator) Messages() []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Message(nil), o.messages...)
}

// Sessions returns a copy of the loaded sessions.
func (o *Orchestrator) Sessions() []domain.ChatSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.ChatSession(nil), o.sessions...)
}

// CurrentSession returns the current session, if any.
func (o *Orchestrator) CurrentSession() (domain.ChatSession, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return domain.ChatSession{}, false
	}
	return *o.current, true
}

// IsLoading reports whether the current session awaits a reply.
func (o *Orchestrator) IsLoading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return false
	}
	_, ok := o.inFlight[o.current.ID]
	return ok
}

// Mode reports where the current session is kept.
func (o *Orchestrator) Mode() domain.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fallback == nil || (o.current != nil && o.local[o.current.ID]) {
		return domain.ModeGuest
	}
	return domain.ModeDurable
}
