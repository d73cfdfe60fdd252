// Package elevenlabs is a small text-to-speech client for the ElevenLabs
// streaming endpoint.
package elevenlabs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io"
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	DefaultModelID = "eleven_multilingual_v2"
)

// TokenProvider supplies the xi-api-key value.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("elevenlabs: unexpected status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	http    *resty.Client
	tokens  TokenProvider
	voiceID string
	modelID string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.http.SetBaseURL(strings.TrimRight(baseURL, "/"))
	}
}

func WithVoiceID(id string) Option {
	return func(c *Client) {
		if id = strings.TrimSpace(id); id != "" {
			c.voiceID = id
		}
	}
}

func WithModelID(id string) Option {
	return func(c *Client) {
		if id = strings.TrimSpace(id); id != "" {
			c.modelID = id
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

func NewClient(tokens TokenProvider, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("elevenlabs: token provider must not be nil")
	}
	c := &Client{
		http: resty.New().
			SetBaseURL(DefaultBaseURL).
			SetTimeout(60 * time.Second).
			SetHeader("Accept", "audio/mpeg"),
		tokens:  tokens,
		voiceID: DefaultVoiceID,
		modelID: DefaultModelID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Synthesize requests speech for text and returns the audio stream. The
// caller must close it.
func (c *Client) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	apiKey, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: resolve api key: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("xi-api-key", apiKey).
		SetHeader("Content-Type", "application/json").
		SetPathParam("voice", c.voiceID).
		SetBody(synthesizeRequest{
			Text:          text,
			ModelID:       c.modelID,
			VoiceSettings: voiceSettings{Stability: 0, SimilarityBoost: 0.75},
		}).
		SetDoNotParseResponse(true).
		Post("/v1/text-to-speech/{voice}/stream")
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: synthesize: %w", err)
	}

	body := resp.RawBody()
	if resp.IsError() {
		defer func() { _ = body.Close() }()
		msg, _ := io.ReadAll(io.LimitReader(body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: string(msg)}
	}
	return body, nil
}
