// Package config reads process configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Persona configures the persona Lambda function.
type Persona struct {
	StateTable  string `env:"STATE_TABLE,notEmpty"`
	StateIndex  string `env:"STATE_INDEX" envDefault:"GSI1"`
	ParamPrefix string `env:"PARAM_PREFIX"`
	IdentityURL string `env:"IDENTITY_URL"`
	RequireAuth bool   `env:"REQUIRE_AUTH" envDefault:"false"`
}

// Client configures the terminal client. Durable accounts need StateTable,
// ParamPrefix (or AnonKey) and IdentityURL; without them the client runs in
// guest mode only.
type Client struct {
	StateTable  string        `env:"XOE_STATE_TABLE"`
	StateIndex  string        `env:"XOE_STATE_INDEX" envDefault:"GSI1"`
	Retention   time.Duration `env:"XOE_RETENTION" envDefault:"0s"`
	ParamPrefix string        `env:"XOE_PARAM_PREFIX"`
	IdentityURL string        `env:"XOE_IDENTITY_URL"`
	AnonKey     string        `env:"XOE_IDENTITY_ANON_KEY"`
	LLMBaseURL  string        `env:"XOE_LLM_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta/openai"`
	LLMModel    string        `env:"XOE_LLM_MODEL" envDefault:"gemini-1.5-flash"`
	LLMAPIKey   string        `env:"XOE_LLM_API_KEY"`
	LLMTimeout  time.Duration `env:"XOE_LLM_TIMEOUT" envDefault:"30s"`
	STTModel    string        `env:"XOE_STT_MODEL" envDefault:"whisper-1"`
	TTSAPIKey   string        `env:"XOE_TTS_API_KEY"`
	TTSVoiceID  string        `env:"XOE_TTS_VOICE_ID"`
	TTSModelID  string        `env:"XOE_TTS_MODEL_ID"`
	TTSTimeout  time.Duration `env:"XOE_TTS_TIMEOUT" envDefault:"60s"`
	PlayerCmd   string        `env:"XOE_PLAYER_CMD" envDefault:"ffplay -nodisp -autoexit -loglevel quiet -"`
	RecorderCmd string        `env:"XOE_RECORDER_CMD"`
	LocalDBPath string        `env:"XOE_LOCAL_DB" envDefault:"xoe.db"`
	LoadTimeout time.Duration `env:"XOE_LOADING_TIMEOUT" envDefault:"5s"`
	LogLevel    string        `env:"XOE_LOG_LEVEL" envDefault:"warn"`
}

// LoadEnvFile loads path into the environment when it exists. An empty path
// tries ./.env.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	slog.Debug("loaded env file", "path", path)
	return nil
}

func LoadPersona() (Persona, error) {
	cfg, err := env.ParseAs[Persona]()
	if err != nil {
		return Persona{}, fmt.Errorf("config: parse persona env: %w", err)
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if cfg.RequireAuth {
		if strings.TrimSpace(cfg.IdentityURL) == "" {
			return Persona{}, errors.New("config: IDENTITY_URL is required when REQUIRE_AUTH is true")
		}
		if cfg.ParamPrefix == "" {
			return Persona{}, errors.New("config: PARAM_PREFIX is required when REQUIRE_AUTH is true")
		}
	}
	return cfg, nil
}

func LoadClient() (Client, error) {
	cfg, err := env.ParseAs[Client]()
	if err != nil {
		return Client{}, fmt.Errorf("config: parse client env: %w", err)
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	cfg.IdentityURL = strings.TrimRight(strings.TrimSpace(cfg.IdentityURL), "/")
	if cfg.LLMAPIKey == "" && cfg.ParamPrefix == "" {
		return Client{}, errors.New("config: XOE_LLM_API_KEY or XOE_PARAM_PREFIX must be set")
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 5 * time.Second
	}
	return cfg, nil
}

// DurableEnabled reports whether durable accounts can be offered.
func (c Client) DurableEnabled() bool {
	return c.StateTable != "" && c.IdentityURL != "" && (c.AnonKey != "" || c.ParamPrefix != "")
}

// NeedsAWS reports whether any configured component reads from AWS.
func (c Client) NeedsAWS() bool {
	return c.DurableEnabled() || c.ParamPrefix != ""
}

// Level maps LogLevel onto slog levels, defaulting to warn.
func (c Client) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelWarn
	}
	return lvl
}
