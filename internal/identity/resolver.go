// Package identity decides who is using the client and whether their chat
// state is durable or guest.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"companion-chat/internal/domain"
	"companion-chat/internal/integrations/gotrue"
	"companion-chat/internal/repository"

	"github.com/google/uuid"
)

// ErrDurableUnavailable is returned by durable operations when no identity
// service is configured.
var ErrDurableUnavailable = errors.New("identity: durable accounts are not configured")

// ErrNoUser is returned by operations that need a signed-in user.
var ErrNoUser = errors.New("identity: no user signed in")

var newUUID = func() string { return uuid.NewString() }

var guestNumber = func() int { return rand.IntN(10000) }

type authAPI interface {
	SignIn(ctx context.Context, email, password string) (*gotrue.Session, error)
	SignUp(ctx context.Context, email, password, name string) (*gotrue.Session, error)
	GetUser(ctx context.Context, accessToken string) (*gotrue.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

type profileStore interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
	CreateProfile(ctx context.Context, p domain.Profile) error
	UpdateProfile(ctx context.Context, userID, name, avatarURL string) error
}

// LocalState is the slice of local storage the resolver reads and writes.
type LocalState interface {
	GuestUser(ctx context.Context) (domain.User, bool, error)
	SaveGuestUser(ctx context.Context, u domain.User) error
	DeleteGuestUser(ctx context.Context) error
	AuthToken(ctx context.Context) (string, bool, error)
	SaveAuthToken(ctx context.Context, token string) error
	DeleteAuthToken(ctx context.Context) error
}

type EventKind string

const (
	SignedIn  EventKind = "signed_in"
	SignedOut EventKind = "signed_out"
)

type Event struct {
	Kind EventKind
	User *domain.User
}

// ProfileUpdate carries the editable user fields; nil leaves a field as is.
type ProfileUpdate struct {
	Name      *string
	AvatarURL *string
}

type Resolver struct {
	auth     authAPI
	profiles profileStore
	local    LocalState

	mu   sync.Mutex
	subs map[int]func(Event)
	next int
}

// New builds a Resolver. auth and profiles may both be nil, in which case
// only guest entry is available.
func New(auth authAPI, profiles profileStore, local LocalState) (*Resolver, error) {
	if local == nil {
		return nil, errors.New("identity: local state must not be nil")
	}
	if (auth == nil) != (profiles == nil) {
		return nil, errors.New("identity: auth and profiles must be configured together")
	}
	return &Resolver{auth: auth, profiles: profiles, local: local, subs: map[int]func(Event){}}, nil
}

// DurableAvailable reports whether durable accounts can be used.
func (r *Resolver) DurableAvailable() bool {
	return r.auth != nil
}

// Resolve returns the active user: the durable session first, then the
// guest record. Any failure is logged and yields nil.
func (r *Resolver) Resolve(ctx context.Context) *domain.User {
	if r.auth != nil {
		token, ok, err := r.local.AuthToken(ctx)
		if err != nil {
			slog.Error("identity: read auth session failed", "err", err)
			return nil
		}
		if ok {
			au, err := r.auth.GetUser(ctx, token)
			switch {
			case errors.Is(err, gotrue.ErrUnauthorized):
				slog.Info("identity: stored session expired")
				if derr := r.local.DeleteAuthToken(ctx); derr != nil {
					slog.Warn("identity: drop expired session failed", "err", derr)
				}
			case err != nil:
				slog.Error("identity: validate session failed", "err", err)
				return nil
			default:
				u := r.durableUser(ctx, au)
				return &u
			}
		}
	}

	guest, ok, err := r.local.GuestUser(ctx)
	if err != nil {
		slog.Error("identity: read guest user failed", "err", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &guest
}

// Mode reports guest when a local guest record exists.
func (r *Resolver) Mode(ctx context.Context) domain.Mode {
	_, ok, err := r.local.GuestUser(ctx)
	if err != nil {
		slog.Warn("identity: read guest user failed", "err", err)
	}
	if ok {
		return domain.ModeGuest
	}
	return domain.ModeDurable
}

// durableUser maps an identity-service user onto a User, loading its
// profile and creating one when missing. Profile failures never block.
func (r *Resolver) durableUser(ctx context.Context, au *gotrue.User) domain.User {
	u := domain.User{ID: au.ID, Email: au.Email}
	p, err := r.profiles.GetProfile(ctx, au.ID)
	switch {
	case err == nil:
		u.Name = p.Name
		u.AvatarURL = p.AvatarURL
	case errors.Is(err, repository.ErrNotFound):
		u.Name = au.MetadataName()
		created := domain.Profile{ID: au.ID, Name: u.Name, Email: au.Email}
		if cerr := r.profiles.CreateProfile(ctx, created); cerr != nil {
			slog.Error("identity: create profile failed", "user_id", au.ID, "err", cerr)
		}
	default:
		slog.Error("identity: load profile failed", "user_id", au.ID, "err", err)
	}
	return u
}

// SignIn authenticates a durable account and stores its session locally.
func (r *Resolver) SignIn(ctx context.Context, email, password string) (domain.User, error) {
	if r.auth == nil {
		return domain.User{}, ErrDurableUnavailable
	}
	s, err := r.auth.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return domain.User{}, fmt.Errorf("identity: SignIn: %w", err)
	}
	return r.establish(ctx, s)
}

// SignUp registers a durable account. When the service requires email
// confirmation no session is returned and the user is nil.
func (r *Resolver) SignUp(ctx context.Context, email, password, name string) (*domain.User, error) {
	if r.auth == nil {
		return nil, ErrDurableUnavailable
	}
	s, err := r.auth.SignUp(ctx, strings.TrimSpace(email), password, strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("identity: SignUp: %w", err)
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	u, err := r.establish(ctx, s)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Resolver) establish(ctx context.Context, s *gotrue.Session) (domain.User, error) {
	if err := r.local.SaveAuthToken(ctx, s.AccessToken); err != nil {
		return domain.User{}, fmt.Errorf("identity: save session: %w", err)
	}
	// A durable session supersedes a leftover guest record.
	if err := r.local.DeleteGuestUser(ctx); err != nil {
		slog.Warn("identity: clear guest record failed", "err", err)
	}
	u := r.durableUser(ctx, &s.User)
	r.emit(Event{Kind: SignedIn, User: &u})
	return u, nil
}

// SignInAsGuest creates a guest identity. With an email the name is its
// local part; otherwise a random Guest-NNNN identity is used.
func (r *Resolver) SignInAsGuest(ctx context.Context, email string) (domain.User, error) {
	email = strings.TrimSpace(email)
	u := domain.User{ID: newUUID()}
	if email != "" {
		u.Email = email
		u.Name, _, _ = strings.Cut(email, "@")
	} else {
		u.Email = fmt.Sprintf("guest-%d@example.com", guestNumber())
		u.Name = fmt.Sprintf("Guest-%d", guestNumber())
	}
	if err := r.local.SaveGuestUser(ctx, u); err != nil {
		return domain.User{}, fmt.Errorf("identity: SignInAsGuest: %w", err)
	}
	r.emit(Event{Kind: SignedIn, User: &u})
	return u, nil
}

// SignOut ends the current identity. A guest record is simply removed; a
// durable session is invalidated upstream first.
func (r *Resolver) SignOut(ctx context.Context) error {
	_, isGuest, err := r.local.GuestUser(ctx)
	if err != nil {
		return fmt.Errorf("identity: SignOut: %w", err)
	}
	if isGuest {
		if err := r.local.DeleteGuestUser(ctx); err != nil {
			return fmt.Errorf("identity: SignOut: %w", err)
		}
		r.emit(Event{Kind: SignedOut})
		return nil
	}

	token, ok, err := r.local.AuthToken(ctx)
	if err != nil {
		return fmt.Errorf("identity: SignOut: %w", err)
	}
	if ok && r.auth != nil {
		if err := r.auth.SignOut(ctx, token); err != nil && !errors.Is(err, gotrue.ErrUnauthorized) {
			return fmt.Errorf("identity: SignOut: %w", err)
		}
	}
	if err := r.local.DeleteAuthToken(ctx); err != nil {
		return fmt.Errorf("identity: SignOut: %w", err)
	}
	r.emit(Event{Kind: SignedOut})
	return nil
}

// UpdateProfile applies upd to user. Guests rewrite their local record,
// durable users update their profile row.
func (r *Resolver) UpdateProfile(ctx context.Context, user *domain.User, upd ProfileUpdate) (domain.User, error) {
	if user == nil {
		return domain.User{}, ErrNoUser
	}
	next := *user
	if upd.Name != nil {
		next.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.AvatarURL != nil {
		next.AvatarURL = strings.TrimSpace(*upd.AvatarURL)
	}

	if r.Mode(ctx) == domain.ModeGuest {
		if err := r.local.SaveGuestUser(ctx, next); err != nil {
			return domain.User{}, fmt.Errorf("identity: UpdateProfile: %w", err)
		}
		return next, nil
	}
	if r.profiles == nil {
		return domain.User{}, ErrDurableUnavailable
	}
	if err := r.profiles.UpdateProfile(ctx, next.ID, next.Name, next.AvatarURL); err != nil {
		return domain.User{}, fmt.Errorf("identity: UpdateProfile: %w", err)
	}
	return next, nil
}

// Subscribe registers fn for sign-in and sign-out events and returns a
// function that removes it.
func (r *Resolver) Subscribe(fn func(Event)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Resolver) emit(ev Event) {
	r.mu.Lock()
	fns := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
