// Package gotrue talks to a GoTrue-compatible identity service over REST.
package gotrue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUnauthorized is returned when the service rejects the credentials or
// access token.
var ErrUnauthorized = errors.New("gotrue: unauthorized")

// TokenProvider supplies the project's anon key.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// MetadataName returns user_metadata.name, or "" when unset.
func (u User) MetadataName() string {
	if u.UserMetadata == nil {
		return ""
	}
	name, _ := u.UserMetadata["name"].(string)
	return name
}

// signUpResponse accepts both a session and a bare user body.
type signUpResponse struct {
	Session
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         User   `json:"user"`
}

// APIError is the error body GoTrue returns for 4xx/5xx responses.
type APIError struct {
	StatusCode       int    `json:"-"`
	Message          string `json:"msg"`
	ErrorDescription string `json:"error_description"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.ErrorDescription
	}
	return fmt.Sprintf("gotrue: status %d: %s", e.StatusCode, msg)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return ErrUnauthorized
	}
	return nil
}

type Client struct {
	http   *resty.Client
	anonKey TokenProvider
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

func NewClient(baseURL string, anonKey TokenProvider, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gotrue: base url must not be empty")
	}
	if anonKey == nil {
		return nil, errors.New("gotrue: anon key provider must not be nil")
	}
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL+"/auth/v1").
			SetTimeout(15*time.Second).
			SetHeader("Content-Type", "application/json"),
		anonKey: anonKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	key, err := c.anonKey.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("gotrue: resolve anon key: %w", err)
	}
	return c.http.R().
		SetContext(ctx).
		SetHeader("apikey", key).
		SetError(&APIError{}), nil
}

func apiError(resp *resty.Response) error {
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{Message: resp.String()}
	}
	apiErr.StatusCode = resp.StatusCode()
	return apiErr
}

// SignIn exchanges email and password for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out Session
	resp, err := req.
		SetQueryParam("grant_type", "password").
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).
		Post("/token")
	if err != nil {
		return nil, fmt.Errorf("gotrue: SignIn: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gotrue: SignIn: %w", apiError(resp))
	}
	return &out, nil
}

// SignUp registers a new account. With email confirmation enabled the
// returned session has no access token.
func (c *Client) SignUp(ctx context.Context, email, password, name string) (*Session, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"name": name},
	}
	var out signUpResponse
	resp, err := req.SetBody(body).SetResult(&out).Post("/signup")
	if err != nil {
		return nil, fmt.Errorf("gotrue: SignUp: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gotrue: SignUp: %w", apiError(resp))
	}
	session := out.Session
	// Unconfirmed sign-ups return the bare user object.
	if session.User.ID == "" {
		session.User = User{ID: out.ID, Email: out.Email, UserMetadata: out.UserMetadata}
	}
	return &session, nil
}

// GetUser validates accessToken and returns its user.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrUnauthorized
	}
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out User
	resp, err := req.SetAuthToken(accessToken).SetResult(&out).Get("/user")
	if err != nil {
		return nil, fmt.Errorf("gotrue: GetUser: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gotrue: GetUser: %w", apiError(resp))
	}
	return &out, nil
}

// SignOut invalidates accessToken upstream.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.SetAuthToken(accessToken).Post("/logout")
	if err != nil {
		return fmt.Errorf("gotrue: SignOut: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gotrue: SignOut: %w", apiError(resp))
	}
	return nil
}
