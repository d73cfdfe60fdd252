// Package app holds the client's application state: the active identity and
// the conversation, speech and loading state bound to it. It is initialized
// once at start and reset on sign-out.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"companion-chat/internal/chat"
	"companion-chat/internal/domain"
	"companion-chat/internal/identity"
	"companion-chat/internal/loading"
	"companion-chat/internal/repository"
	"companion-chat/internal/speech"
)

const loadingMessage = "Loading your conversations..."

// Identity is the part of the identity resolver the app reacts to.
type Identity interface {
	Resolve(ctx context.Context) *domain.User
	Mode(ctx context.Context) domain.Mode
	Subscribe(fn func(identity.Event)) func()
}

type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
}

// Deps are the long-lived components the app wires together. Remote and
// Profiles are nil when durable accounts are not configured; Speaker and
// Dictation are nil when voice is unavailable.
type Deps struct {
	Identity  Identity
	Local     chat.ConversationStore
	Remote    chat.ConversationStore
	Profiles  ProfileReader
	Generator chat.Generator
	Notifier  chat.Notifier
	Overlay   *loading.Overlay
	Speaker   *speech.Speaker
	Dictation *speech.Dictation
}

type App struct {
	deps Deps

	mu sync.Mutex
	// ctx bounds loads triggered by identity events.
	ctx         context.Context
	user        *domain.User
	profile     *domain.Profile
	conv        *chat.Orchestrator
	unsubscribe func()
}

func New(d Deps) (*App, error) {
	if d.Identity == nil {
		return nil, errors.New("app: identity must not be nil")
	}
	if d.Local == nil {
		return nil, errors.New("app: local store must not be nil")
	}
	if d.Generator == nil {
		return nil, errors.New("app: generator must not be nil")
	}
	if d.Overlay == nil {
		d.Overlay = loading.New(loading.DefaultTimeout)
	}
	return &App{deps: d}, nil
}

// Init subscribes to identity changes and opens the conversation of the user
// already signed in, if any.
func (a *App) Init(ctx context.Context) error {
	a.mu.Lock()
	if a.unsubscribe != nil {
		a.mu.Unlock()
		return errors.New("app: already initialized")
	}
	a.ctx = ctx
	a.unsubscribe = a.deps.Identity.Subscribe(a.onIdentity)
	a.mu.Unlock()

	user := a.deps.Identity.Resolve(ctx)
	if user == nil {
		slog.Info("app: no user signed in")
		return nil
	}
	return a.open(ctx, *user)
}

func (a *App) onIdentity(ev identity.Event) {
	switch ev.Kind {
	case identity.SignedIn:
		if ev.User == nil {
			return
		}
		a.mu.Lock()
		ctx := a.ctx
		a.mu.Unlock()
		if err := a.open(ctx, *ev.User); err != nil {
			slog.Error("app: open conversation failed", "user_id", ev.User.ID, "err", err)
		}
	case identity.SignedOut:
		a.reset()
	}
}

// open binds a fresh conversation to user. The store is chosen once here:
// durable users write remotely with the local store as fallback, guests
// write locally.
func (a *App) open(ctx context.Context, user domain.User) error {
	mode := a.deps.Identity.Mode(ctx)

	var (
		store, fallback chat.ConversationStore
		profile         *domain.Profile
	)
	if mode == domain.ModeDurable && a.deps.Remote != nil {
		store, fallback = a.deps.Remote, a.deps.Local
		profile = a.loadProfile(ctx, user.ID)
	} else {
		store = a.deps.Local
	}

	conv, err := chat.NewOrchestrator(store, fallback, a.deps.Generator, a.deps.Notifier)
	if err != nil {
		return fmt.Errorf("app: open: %w", err)
	}
	conv.SetUser(&user, profile)

	a.mu.Lock()
	prev := a.conv
	a.user = &user
	a.profile = profile
	a.conv = conv
	a.mu.Unlock()
	if prev != nil {
		prev.Reset()
	}

	a.deps.Overlay.Start(loadingMessage)
	defer a.deps.Overlay.Stop()
	if err := conv.Load(ctx); err != nil {
		return fmt.Errorf("app: open: %w", err)
	}
	slog.Info("app: conversation ready", "user_id", user.ID, "mode", string(conv.Mode()))
	return nil
}

// loadProfile returns the personalization profile or nil. A missing profile
// is normal for new accounts.
func (a *App) loadProfile(ctx context.Context, userID string) *domain.Profile {
	if a.deps.Profiles == nil {
		return nil
	}
	p, err := a.deps.Profiles.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Warn("app: load profile failed", "user_id", userID, "err", err)
		}
		return nil
	}
	return &p
}

func (a *App) reset() {
	a.mu.Lock()
	conv := a.conv
	a.conv = nil
	a.user = nil
	a.profile = nil
	a.mu.Unlock()

	if conv != nil {
		conv.Reset()
	}
	if a.deps.Speaker != nil {
		a.deps.Speaker.Stop()
	}
	if a.deps.Dictation != nil {
		a.deps.Dictation.SetDraft("")
	}
	a.deps.Overlay.Stop()
	slog.Info("app: signed out, state cleared")
}

// User returns the active user, or nil when signed out.
func (a *App) User() *domain.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user == nil {
		return nil
	}
	u := *a.user
	return &u
}

// Chat returns the active conversation, or nil when signed out.
func (a *App) Chat() *chat.Orchestrator {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conv
}

// SetUser replaces the active user after a profile edit.
func (a *App) SetUser(u domain.User) {
	a.mu.Lock()
	a.user = &u
	conv, profile := a.conv, a.profile
	a.mu.Unlock()
	if conv != nil {
		conv.SetUser(&u, profile)
	}
}

func (a *App) Overlay() *loading.Overlay { return a.deps.Overlay }

func (a *App) Speaker() *speech.Speaker { return a.deps.Speaker }

func (a *App) Dictation() *speech.Dictation { return a.deps.Dictation }

// Send sends content in the current session and, with voice enabled, speaks
// the reply when it arrives in the session still on screen.
func (a *App) Send(ctx context.Context, content string) error {
	conv := a.Chat()
	if conv == nil {
		return identity.ErrNoUser
	}
	if err := conv.SendMessage(ctx, content); err != nil {
		return err
	}
	if a.deps.Speaker == nil || !a.deps.Speaker.Enabled() {
		return nil
	}
	msgs := conv.Messages()
	if len(msgs) == 0 {
		return nil
	}
	last := msgs[len(msgs)-1]
	if last.Role == domain.RoleAI && last.Status == domain.StatusComplete && last.Content != chat.Apology {
		a.deps.Speaker.Speak(ctx, last.ID, last.Content)
	}
	return nil
}

// Close detaches from identity events and stops any playback.
func (a *App) Close() {
	a.mu.Lock()
	unsub := a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if a.deps.Speaker != nil {
		a.deps.Speaker.Stop()
		a.deps.Speaker.Wait()
	}
	a.deps.Overlay.Stop()
}
