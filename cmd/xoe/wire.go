package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"companion-chat/internal/app"
	"companion-chat/internal/chat"
	"companion-chat/internal/companion"
	"companion-chat/internal/config"
	"companion-chat/internal/identity"
	"companion-chat/internal/integrations/elevenlabs"
	"companion-chat/internal/integrations/gotrue"
	"companion-chat/internal/integrations/openai"
	"companion-chat/internal/integrations/paramstore"
	"companion-chat/internal/loading"
	"companion-chat/internal/localstore"
	"companion-chat/internal/repository"
	"companion-chat/internal/speech"
)

// SSM parameter keys under the configured prefix.
const (
	paramLLMToken    = "llm-token"
	paramTTSToken    = "tts-token"
	paramIdentityKey = "identity-anon-key"
)

type tokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// runtime holds the components one command invocation works with.
type runtime struct {
	cfg      config.Client
	out      io.Writer
	kv       *localstore.KV
	local    *localstore.Store
	resolver *identity.Resolver
	remote   *repository.Client
	params   paramstore.Getter
}

func setup(ctx context.Context, cfg config.Client, out io.Writer) (_ *runtime, err error) {
	kv, err := localstore.Open(ctx, cfg.LocalDBPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = kv.Close()
		}
	}()
	local, err := localstore.New(kv)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, out: out, kv: kv, local: local}

	if cfg.NeedsAWS() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		if cfg.ParamPrefix != "" {
			ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				return nil, err
			}
			rt.params = ps
		}
		if cfg.DurableEnabled() {
			rt.remote, err = repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable,
				repository.WithIndexName(cfg.StateIndex), repository.WithRetention(cfg.Retention))
			if err != nil {
				return nil, err
			}
		}
	}

	if rt.remote == nil {
		rt.resolver, err = identity.New(nil, nil, local)
		if err != nil {
			return nil, err
		}
		return rt, nil
	}
	anonKey, err := rt.token(cfg.AnonKey, paramIdentityKey)
	if err != nil {
		return nil, err
	}
	auth, err := gotrue.NewClient(cfg.IdentityURL, anonKey)
	if err != nil {
		return nil, err
	}
	rt.resolver, err = identity.New(auth, rt.remote, local)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// token prefers an explicitly configured key and falls back to SSM.
func (rt *runtime) token(explicit, key string) (tokenProvider, error) {
	if explicit != "" {
		return paramstore.Static(explicit), nil
	}
	if rt.params == nil {
		return nil, fmt.Errorf("no credential configured for %s", key)
	}
	ts, err := paramstore.NewTokenSource(rt.params, rt.cfg.ParamPrefix, key)
	if err != nil {
		return nil, err
	}
	return ts, nil
}

func (rt *runtime) notifier() chat.Notifier {
	return chat.NotifierFunc(func(n chat.Notification) {
		fmt.Fprintln(rt.out, renderNotification(n))
	})
}

// buildApp wires the conversation, speech and loading components.
func (rt *runtime) buildApp(ctx context.Context) (*app.App, error) {
	llmKey, err := rt.token(rt.cfg.LLMAPIKey, paramLLMToken)
	if err != nil {
		return nil, err
	}
	llm, err := openai.NewClient(llmKey, rt.cfg.LLMModel,
		openai.WithBaseURL(rt.cfg.LLMBaseURL), openai.WithTranscriptionModel(rt.cfg.STTModel))
	if err != nil {
		return nil, err
	}
	gen, err := companion.NewGenerator(llm, companion.WithTimeout(rt.cfg.LLMTimeout))
	if err != nil {
		return nil, err
	}

	overlay := loading.New(rt.cfg.LoadTimeout)
	overlay.OnChange(func(s loading.State) {
		if s.Loading {
			fmt.Fprintln(rt.out, dimStyle.Render(s.Message))
		}
	})

	deps := app.Deps{
		Identity:  rt.resolver,
		Local:     rt.local,
		Generator: gen,
		Notifier:  rt.notifier(),
		Overlay:   overlay,
	}
	if rt.remote != nil {
		deps.Remote = rt.remote
		deps.Profiles = rt.remote
	}
	deps.Speaker = rt.speaker(ctx)

	var rec speech.Recognizer
	if recorder, err := speech.NewExecRecorder(rt.cfg.RecorderCmd, "speech.wav"); err == nil {
		tr, err := speech.NewTranscriptionRecognizer(recorder, llm)
		if err != nil {
			return nil, err
		}
		rec = tr
	}
	if deps.Speaker != nil {
		deps.Dictation = speech.NewDictation(rec, deps.Speaker)
	} else {
		deps.Dictation = speech.NewDictation(rec, nil)
	}
	return app.New(deps)
}

// speaker returns nil when no TTS credential or player is available.
func (rt *runtime) speaker(ctx context.Context) *speech.Speaker {
	ttsKey, err := rt.token(rt.cfg.TTSAPIKey, paramTTSToken)
	if err != nil {
		slog.Debug("voice output disabled", "err", err)
		return nil
	}
	tts, err := elevenlabs.NewClient(ttsKey,
		elevenlabs.WithVoiceID(rt.cfg.TTSVoiceID),
		elevenlabs.WithModelID(rt.cfg.TTSModelID),
		elevenlabs.WithTimeout(rt.cfg.TTSTimeout))
	if err != nil {
		slog.Warn("voice output disabled", "err", err)
		return nil
	}
	sink, err := speech.NewExecSink(rt.cfg.PlayerCmd)
	if err != nil {
		slog.Debug("voice output disabled", "err", err)
		return nil
	}
	s, err := speech.NewSpeaker(ctx, tts, sink, rt.local)
	if err != nil {
		slog.Warn("voice output disabled", "err", err)
		return nil
	}
	return s
}

func (rt *runtime) Close() error {
	return rt.kv.Close()
}
