package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"companion-chat/internal/domain"
	"companion-chat/internal/localstore"

	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu sync.Mutex

	sessions map[string]domain.ChatSession
	messages map[string][]domain.Message

	createErr    error
	listErr      error
	listMsgErr   error
	appendErr    func(domain.Message) error
	createCalls  int
	summaryCalls []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[string]domain.ChatSession{},
		messages: map[string][]domain.Message{},
	}
}

func (f *fakeStore) ListSessions(_ context.Context, userID string) ([]domain.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.ChatSession
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	return out, nil
}

func (f *fakeStore) CreateSession(_ context.Context, s domain.ChatSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return f.createErr
	}
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) UpdateSessionSummary(_ context.Context, id, lastMessage string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return errors.New("no such session")
	}
	s.LastMessage = lastMessage
	s.LastUpdated = at
	f.sessions[id] = s
	f.summaryCalls = append(f.summaryCalls, lastMessage)
	return nil
}

func (f *fakeStore) ListMessages(_ context.Context, sessionID string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listMsgErr != nil {
		return nil, f.listMsgErr
	}
	return append([]domain.Message(nil), f.messages[sessionID]...), nil
}

func (f *fakeStore) AppendMessage(_ context.Context, sessionID string, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		if err := f.appendErr(msg); err != nil {
			return err
		}
	}
	if msg.IsLoading() {
		return errors.New("pending message persisted")
	}
	f.messages[sessionID] = append(f.messages[sessionID], msg)
	return nil
}

func (f *fakeStore) stored(sessionID string) []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.messages[sessionID]...)
}

func (f *fakeStore) session(id string) domain.ChatSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

// atomicStore adds the single-call message+summary write.
type atomicStore struct {
	*fakeStore
	atomicCalls int
}

func (a *atomicStore) AppendMessageWithSummary(ctx context.Context, sessionID string, msg domain.Message, lastMessage string, at time.Time) error {
	a.atomicCalls++
	if err := a.AppendMessage(ctx, sessionID, msg); err != nil {
		return err
	}
	return a.UpdateSessionSummary(ctx, sessionID, lastMessage, at)
}

type genCall struct {
	history []domain.Message
	name    string
	profile *domain.Profile
}

type fakeGen struct {
	mu      sync.Mutex
	reply   string
	err     error
	started chan struct{}
	release chan struct{}
	calls   []genCall
}

func (g *fakeGen) Generate(_ context.Context, history []domain.Message, name string, profile *domain.Profile) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, genCall{history: history, name: name, profile: profile})
	started, release := g.started, g.release
	g.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return g.reply, g.err
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func seqIDs(t *testing.T) {
	t.Helper()
	prev := newUUID
	t.Cleanup(func() { newUUID = prev })
	var mu sync.Mutex
	n := 0
	newUUID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%02d", n)
	}
}

var testUser = &domain.User{ID: "u-1", Email: "ana@example.com", Name: "Ana"}

type harness struct {
	o        *Orchestrator
	store    *fakeStore
	fallback *fakeStore
	gen      *fakeGen
	notes    *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	seqIDs(t)
	h := &harness{
		store:    newFakeStore(),
		fallback: newFakeStore(),
		gen:      &fakeGen{reply: "Nice to hear from you!"},
		notes:    &recordingNotifier{},
	}
	o, err := NewOrchestrator(h.store, h.fallback, h.gen, h.notes, WithClock(stepClock()))
	require.NoError(t, err)
	o.SetUser(testUser, nil)
	h.o = o
	return h
}

func pendingCount(msgs []domain.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == domain.RoleAI && m.IsLoading() {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// constructor & guards
// ---------------------------------------------------------------------------

func TestNewOrchestrator_Validation(t *testing.T) {
	_, err := NewOrchestrator(nil, nil, &fakeGen{}, nil)
	require.Error(t, err)
	_, err = NewOrchestrator(newFakeStore(), nil, nil, nil)
	require.Error(t, err)

	o, err := NewOrchestrator(newFakeStore(), nil, &fakeGen{}, nil)
	require.NoError(t, err)
	require.Equal(t, domain.ModeGuest, o.Mode())
}

func TestSendMessage_NoSessionOrUserIsNoop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.o.SendMessage(context.Background(), "Hi"))
	require.Empty(t, h.o.Messages())
	require.Empty(t, h.gen.calls)

	h.o.SetUser(nil, nil)
	require.NoError(t, h.o.StartNewSession(context.Background()))
	require.Empty(t, h.o.Sessions())
	require.Zero(t, h.store.createCalls)
}

func TestSendMessage_BlankIgnored(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.o.StartNewSession(context.Background()))
	require.NoError(t, h.o.SendMessage(context.Background(), "   "))
	require.Len(t, h.o.Messages(), 1)
}

// ---------------------------------------------------------------------------
// StartNewSession
// ---------------------------------------------------------------------------

func TestStartNewSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.o.StartNewSession(context.Background()))

	cur, ok := h.o.CurrentSession()
	require.True(t, ok)
	require.Equal(t, DefaultTitle, cur.Title)
	require.Equal(t, "u-1", cur.UserID)
	require.Equal(t, domain.Preview(Greeting), cur.LastMessage)
	require.True(t, strings.HasSuffix(cur.LastMessage, "..."))

	msgs := h.o.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, domain.RoleAI, msgs[0].Role)
	require.Equal(t, Greeting, msgs[0].Content)
	require.False(t, msgs[0].IsLoading())

	require.Len(t, h.o.Sessions(), 1)
	stored := h.store.session(cur.ID)
	require.Equal(t, DefaultTitle, stored.Title)
	require.Equal(t, domain.Preview(Greeting), stored.LastMessage)
	require.Len(t, h.store.stored(cur.ID), 1)
	require.Empty(t, h.notes.all())
	require.Equal(t, domain.ModeDurable, h.o.Mode())
}

func TestStartNewSession_RemoteFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.store.createErr = errors.New("dynamodb unavailable")

	require.NoError(t, h.o.StartNewSession(context.Background()))

	msgs := h.o.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, Greeting, msgs[0].Content)
	require.Equal(t, domain.RoleAI, msgs[0].Role)

	cur, ok := h.o.CurrentSession()
	require.True(t, ok)
	require.Len(t, h.fallback.stored(cur.ID), 1)
	require.Equal(t, domain.Preview(Greeting), h.fallback.session(cur.ID).LastMessage)
	require.Equal(t, domain.ModeGuest, h.o.Mode())

	notes := h.notes.all()
	require.Len(t, notes, 1)
	require.Equal(t, VariantDestructive, notes[0].Variant)

	// Each new session tries the remote store again.
	h.store.createErr = nil
	require.NoError(t, h.o.StartNewSession(context.Background()))
	next, _ := h.o.CurrentSession()
	require.Equal(t, 2, h.store.createCalls)
	require.Equal(t, 1, h.fallback.createCalls)
	require.Len(t, h.store.stored(next.ID), 1)
	require.Equal(t, domain.ModeDurable, h.o.Mode())
	require.Len(t, h.notes.all(), 1)
	require.Len(t, h.o.Sessions(), 2)
}

func TestSelectSession_RemoteSessionAfterFallbackStillRemote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.sessions["remote-1"] = domain.ChatSession{
		ID: "remote-1", Title: DefaultTitle, LastMessage: "remembered",
		LastUpdated: time.Unix(10, 0), UserID: "u-1",
	}
	h.store.messages["remote-1"] = []domain.Message{{
		ID: "m-0", Content: "remembered", Role: domain.RoleUser,
		SentAt: time.Unix(10, 0), UserID: "u-1", Status: domain.StatusComplete,
	}}
	require.NoError(t, h.o.Load(ctx))
	require.Len(t, h.o.Messages(), 1)

	h.store.createErr = errors.New("dynamodb unavailable")
	require.NoError(t, h.o.StartNewSession(ctx))
	local, _ := h.o.CurrentSession()
	require.Len(t, h.fallback.stored(local.ID), 1)
	require.Equal(t, domain.ModeGuest, h.o.Mode())

	require.NoError(t, h.o.SelectSession(ctx, "remote-1"))
	msgs := h.o.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "remembered", msgs[0].Content)
	require.Equal(t, domain.ModeDurable, h.o.Mode())

	require.NoError(t, h.o.SendMessage(ctx, "still there?"))
	require.Len(t, h.store.stored("remote-1"), 3)
	require.Empty(t, h.fallback.stored("remote-1"))
	require.Equal(t, []Notification{noticeCreateFailed}, h.notes.all())

	// The fallback session keeps using the local store.
	require.NoError(t, h.o.SelectSession(ctx, local.ID))
	require.NoError(t, h.o.SendMessage(ctx, "hello again"))
	require.Len(t, h.fallback.stored(local.ID), 3)
	require.Empty(t, h.store.stored(local.ID))
}

func TestStartNewSession_TotalPersistenceFailureStillVisible(t *testing.T) {
	h := newHarness(t)
	h.store.createErr = errors.New("remote down")
	h.fallback.createErr = errors.New("disk full")
	h.fallback.appendErr = func(domain.Message) error { return errors.New("disk full") }

	require.NoError(t, h.o.StartNewSession(context.Background()))
	msgs := h.o.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, Greeting, msgs[0].Content)
	_, ok := h.o.CurrentSession()
	require.True(t, ok)
	require.Equal(t, []Notification{noticeCreateFailed, noticeSaveFailed}, h.notes.all())
}

// ---------------------------------------------------------------------------
// SendMessage
// ---------------------------------------------------------------------------

func TestSendMessage_Hi(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.o.StartNewSession(ctx))
	cur, _ := h.o.CurrentSession()

	require.NoError(t, h.o.SendMessage(ctx, "Hi"))

	msgs := h.o.Messages()
	require.Len(t, msgs, 3)
	userMsg, reply := msgs[1], msgs[2]
	require.Equal(t, domain.RoleUser, userMsg.Role)
	require.Equal(t, "Hi", userMsg.Content)
	require.Equal(t, "u-1", userMsg.UserID)
	require.Equal(t, domain.RoleAI, reply.Role)
	require.Equal(t, "Nice to hear from you!", reply.Content)
	require.False(t, reply.IsLoading())
	require.Less(t, userMsg.ID, reply.ID)
	require.True(t, userMsg.SentAt.Before(reply.SentAt))
	require.Zero(t, pendingCount(msgs))
	require.False(t, h.o.IsLoading())

	stored := h.store.stored(cur.ID)
	require.Len(t, stored, 3)
	require.Equal(t, userMsg, stored[1])
	require.Equal(t, reply, stored[2])
	require.Equal(t, "Nice to hear from you!", h.store.session(cur.ID).LastMessage)
	require.Equal(t, []string{domain.Preview(Greeting), "Hi", "Nice to hear from you!"}, h.store.summaryCalls)

	// Generator saw the history up to and including the user message.
	require.Len(t, h.gen.calls, 1)
	call := h.gen.calls[0]
	require.Len(t, call.history, 2)
	require.Equal(t, "Hi", call.history[1].Content)
	require.Equal(t, "Ana", call.name)
	require.Empty(t, h.notes.all())
}

func TestSendMessage_PassesProfileAndDefaultName(t *testing.T) {
	h := newHarness(t)
	profile := &domain.Profile{ID: "u-1", Interests: []string{"jazz"}}
	h.o.SetUser(&domain.User{ID: "u-1"}, profile)
	require.NoError(t, h.o.StartNewSession(context.Background()))
	require.NoError(t, h.o.SendMessage(context.Background(), "Hi"))

	call := h.gen.calls[0]
	require.Equal(t, "User", call.name)
	require.Equal(t, []string{"jazz"}, call.profile.Interests)
}

func TestSendMessage_SummaryTruncation(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  string
	}{
		{"long", strings.Repeat("x", 80), strings.Repeat("x", 50) + "..."},
		{"short", strings.Repeat("y", 30), strings.Repeat("y", 30)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.gen.reply = tc.reply
			ctx := context.Background()
			require.NoError(t, h.o.StartNewSession(ctx))
			require.NoError(t, h.o.SendMessage(ctx, "Hi"))

			cur, _ := h.o.CurrentSession()
			require.Equal(t, tc.want, cur.LastMessage)
			require.Equal(t, tc.want, h.o.Sessions()[0].LastMessage)
			require.Equal(t, tc.want, h.store.session(cur.ID).LastMessage)
		})
	}
}

func TestSendMessage_UsesAtomicAppendWhenAvailable(t *testing.T) {
	seqIDs(t)
	store := &atomicStore{fakeStore: newFakeStore()}
	o, err := NewOrchestrator(store, nil, &fakeGen{reply: "ok"}, &recordingNotifier{}, WithClock(stepClock()))
	require.NoError(t, err)
	o.SetUser(testUser, nil)

	require.NoError(t, o.StartNewSession(context.Background()))
	require.NoError(t, o.SendMessage(context.Background(), "Hi"))
	require.Equal(t, 3, store.atomicCalls)
}

func TestSendMessage_GenerationFailure(t *testing.T) {
	h := newHarness(t)
	h.gen.err = errors.New("provider 500")
	ctx := context.Background()
	require.NoError(t, h.o.StartNewSession(ctx))
	cur, _ := h.o.CurrentSession()

	require.NoError(t, h.o.SendMessage(ctx, "Hi"))

	msgs := h.o.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, Apology, msgs[2].Content)
	require.False(t, msgs[2].IsLoading())
	require.False(t, h.o.IsLoading())

	notes := h.notes.all()
	require.Len(t, notes, 1)
	require.Equal(t, noticeGenerateFailed, notes[0])

	// The apology is not persisted; the user message is.
	stored := h.store.stored(cur.ID)
	require.Len(t, stored, 2)
	require.Equal(t, "Hi", stored[1].Content)

	// The conversation stays usable.
	h.gen.err = nil
	require.NoError(t, h.o.SendMessage(ctx, "Again"))
	require.Len(t, h.o.Messages(), 5)
}

func TestSendMessage_UserPersistFailureKeepsMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.o.StartNewSession(ctx))
	h.store.appendErr = func(m domain.Message) error {
		if m.Role == domain.RoleUser {
			return errors.New("throttled")
		}
		return nil
	}

	require.NoError(t, h.o.SendMessage(ctx, "Hi"))

	msgs := h.o.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "Hi", msgs[1].Content)
	require.Equal(t, "Nice to hear from you!", msgs[2].Content)
	require.Equal(t, []Notification{noticeSaveFailed}, h.notes.all())
}

func TestSendMessage_ReplyPersistFailureKeepsReply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.o.StartNewSession(ctx))
	h.store.appendErr = func(m domain.Message) error {
		if m.Role == domain.RoleAI {
			return errors.New("throttled")
		}
		return nil
	}

	require.NoError(t, h.o.SendMessage(ctx, "Hi"))
	msgs := h.o.Messages()
	require.Equal(t, "Nice to hear from you!", msgs[2].Content)
	require.Equal(t, []Notification{noticeReplySaveFailed}, h.notes.all())
	require.Equal(t, VariantDestructive, h.notes.all()[0].Variant)
}

func TestSendMessage_SinglePlaceholderAndInFlightGuard(t *testing.T) {
	h := newHarness(t)
	h.gen.started = make(chan struct{})
	h.gen.release = make(chan struct{})
	ctx := context.Background()
	require.NoError(t, h.o.StartNewSession(ctx))

	done := make(chan error, 1)
	go func() { done <- h.o.SendMessage(ctx, "first") }()
	<-h.gen.started

	msgs := h.o.Messages()
	require.Equal(t, 1, pendingCount(msgs))
	require.True(t, msgs[len(msgs)-1].IsLoading())
	require.True(t, h.o.IsLoading())

	err := h.o.SendMessage(ctx, "second")
	require.ErrorIs(t, err, ErrReplyInFlight)
	require.Equal(t, msgs, h.o.Messages())

	close(h.gen.release)
	require.NoError(t, <-done)

	msgs = h.o.Messages()
	require.Zero(t, pendingCount(msgs))
	require.Len(t, msgs, 3)
	require.False(t, h.o.IsLoading())
}

func TestSendMessage_SerialSendsNeverExceedOnePlaceholder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.o.StartNewSession(ctx))
	for i := 0; i < 5; i++ {
		require.NoError(t, h.o.SendMessage(ctx, fmt.Sprintf("msg %d", i)))
		require.LessOrEqual(t, pendingCount(h.o.Messages()), 1)
	}
	require.Len(t, h.o.Messages(), 11)
	require.Zero(t, pendingCount(h.o.Messages()))
}

func TestSendMessage_ReplyForOtherSessionIsPersistedNotShown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.o.StartNewSession(ctx))
	first, _ := h.o.CurrentSession()
	require.NoError(t, h.o.StartNewSession(ctx))
	second, _ := h.o.CurrentSession()
	require.NoError(t, h.o.SelectSession(ctx, first.ID))

	h.gen.started = make(chan struct{})
	h.gen.release = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- h.o.SendMessage(ctx, "Hi") }()
	<-h.gen.started

	require.NoError(t, h.o.SelectSession(ctx, second.ID))
	close(h.gen.release)
	require.NoError(t, <-done)

	// Nothing leaked into the session on screen.
	msgs := h.o.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, Greeting, msgs[0].Content)
	require.False(t, h.o.IsLoading())

	// The reply landed in its own session.
	stored := h.store.stored(first.ID)
	require.Len(t, stored, 3)
	require.Equal(t, "Nice to hear from you!", stored[2].Content)
	for _, s := range h.o.Sessions() {
		if s.ID == first.ID {
			require.Equal(t, "Nice to hear from you!", s.LastMessage)
		}
	}

	require.NoError(t, h.o.SelectSession(ctx, first.ID))
	require.Len(t, h.o.Messages(), 3)
}

func TestSelectSession_BackToInFlightSessionShowsPlaceholder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.o.StartNewSession(ctx))
	first, _ := h.o.CurrentSession()
	require.NoError(t, h.o.StartNewSession(ctx))
	second, _ := h.o.CurrentSession()
	require.NoError(t, h.o.SelectSession(ctx, first.ID))

	h.gen.started = make(chan struct{})
	h.gen.release = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- h.o.SendMessage(ctx, "Hi") }()
	<-h.gen.started

	require.NoError(t, h.o.SelectSession(ctx, second.ID))
	require.NoError(t, h.o.SelectSession(ctx, first.ID))
	require.True(t, h.o.IsLoading())
	require.Equal(t, 1, pendingCount(h.o.Messages()))

	close(h.gen.release)
	require.NoError(t, <-done)
	msgs := h.o.Messages()
	require.Zero(t, pendingCount(msgs))
	require.Equal(t, "Nice to hear from you!", msgs[len(msgs)-1].Content)
}

// ---------------------------------------------------------------------------
// SelectSession & Load
// ---------------------------------------------------------------------------

func TestSelectSession_NotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.o.StartNewSession(ctx))
	curBefore, _ := h.o.CurrentSession()
	msgsBefore := h.o.Messages()

	err := h.o.SelectSession(ctx, "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)

	curAfter, _ := h.o.CurrentSession()
	require.Equal(t, curBefore, curAfter)
	require.Equal(t, msgsBefore, h.o.Messages())
	require.Equal(t, []Notification{noticeSessionNotFound}, h.notes.all())
}

func TestSelectSession_ListFailureEmptiesMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.o.StartNewSession(ctx))
	cur, _ := h.o.CurrentSession()
	h.store.listMsgErr = errors.New("timeout")

	require.NoError(t, h.o.SelectSession(ctx, cur.ID))
	require.Empty(t, h.o.Messages())
	require.Equal(t, []Notification{noticeLoadMessagesFailed}, h.notes.all())
}

func TestLoad_SelectsNewestSession(t *testing.T) {
	h := newHarness(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	h.store.sessions["old"] = domain.ChatSession{ID: "old", UserID: "u-1", LastUpdated: base}
	h.store.sessions["new"] = domain.ChatSession{ID: "new", UserID: "u-1", LastUpdated: base.Add(time.Hour)}
	h.store.messages["new"] = []domain.Message{{ID: "m-1", Content: "hello", Role: domain.RoleUser, SentAt: base}}

	require.NoError(t, h.o.Load(context.Background()))

	cur, ok := h.o.CurrentSession()
	require.True(t, ok)
	require.Equal(t, "new", cur.ID)
	require.Len(t, h.o.Sessions(), 2)
	require.Equal(t, "hello", h.o.Messages()[0].Content)
	require.Zero(t, h.store.createCalls)
}

func TestLoad_NoSessionsStartsOne(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.o.Load(context.Background()))
	require.Len(t, h.o.Sessions(), 1)
	require.Equal(t, Greeting, h.o.Messages()[0].Content)
	require.Equal(t, 1, h.store.createCalls)
}

func TestLoad_FailureFallsBackAndStartsSession(t *testing.T) {
	h := newHarness(t)
	h.store.listErr = errors.New("access denied")

	require.NoError(t, h.o.Load(context.Background()))

	require.Equal(t, domain.ModeGuest, h.o.Mode())
	require.Zero(t, h.store.createCalls)
	require.Equal(t, 1, h.fallback.createCalls)
	require.Len(t, h.o.Messages(), 1)
	require.Equal(t, []Notification{noticeLoadSessionsFailed}, h.notes.all())
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	h.store.createErr = errors.New("down")
	require.NoError(t, h.o.StartNewSession(context.Background()))
	require.Equal(t, domain.ModeGuest, h.o.Mode())

	h.o.Reset()
	require.Empty(t, h.o.Messages())
	require.Empty(t, h.o.Sessions())
	_, ok := h.o.CurrentSession()
	require.False(t, ok)
	require.Equal(t, domain.ModeDurable, h.o.Mode())

	// Without a user every operation is a no-op.
	require.NoError(t, h.o.Load(context.Background()))
	require.Empty(t, h.o.Sessions())
}

func TestAccessorsReturnCopies(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.o.StartNewSession(context.Background()))
	msgs := h.o.Messages()
	msgs[0].Content = "tampered"
	sessions := h.o.Sessions()
	sessions[0].Title = "tampered"

	require.Equal(t, Greeting, h.o.Messages()[0].Content)
	require.Equal(t, DefaultTitle, h.o.Sessions()[0].Title)
}

// ---------------------------------------------------------------------------
// guest round-trip over the local store
// ---------------------------------------------------------------------------

func TestGuestRoundTrip(t *testing.T) {
	seqIDs(t)
	ctx := context.Background()
	kv, err := localstore.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	local, err := localstore.New(kv)
	require.NoError(t, err)
	guest := &domain.User{ID: "g-1", Name: "Guest-12"}

	o, err := NewOrchestrator(local, nil, &fakeGen{reply: "Lovely to meet you, Guest-12!"}, &recordingNotifier{}, WithClock(stepClock()))
	require.NoError(t, err)
	o.SetUser(guest, nil)
	require.NoError(t, o.Load(ctx))
	require.NoError(t, o.SendMessage(ctx, "Hi"))

	// A new client over the same storage rebuilds the same state.
	reopened, err := localstore.New(kv)
	require.NoError(t, err)
	again, err := NewOrchestrator(reopened, nil, &fakeGen{}, &recordingNotifier{})
	require.NoError(t, err)
	again.SetUser(guest, nil)
	require.NoError(t, again.Load(ctx))

	require.Equal(t, o.Sessions(), again.Sessions())
	require.Equal(t, o.Messages(), again.Messages())
	require.Len(t, again.Messages(), 3)
}
