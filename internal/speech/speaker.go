// Package speech covers voice output through a single exclusive playback
// handle and voice input appended to the message draft.
package speech

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Synthesizer turns text into an audio stream.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// AudioSink plays audio until the stream ends or ctx is cancelled.
type AudioSink interface {
	Play(ctx context.Context, audio io.Reader) error
}

// Preferences persists the voice toggle.
type Preferences interface {
	VoiceEnabled(ctx context.Context) bool
	SetVoiceEnabled(ctx context.Context, enabled bool) error
}

// Event reports a change of the speaking indicator.
type Event struct {
	Speaking  bool
	MessageID string
}

type Speaker struct {
	synth Synthesizer
	sink  AudioSink
	prefs Preferences

	mu       sync.Mutex
	enabled  bool
	playing  string
	cancel   context.CancelFunc
	handle   uint64
	listener func(Event)
	wg       sync.WaitGroup
}

func NewSpeaker(ctx context.Context, synth Synthesizer, sink AudioSink, prefs Preferences) (*Speaker, error) {
	if synth == nil {
		return nil, errors.New("speech: synthesizer must not be nil")
	}
	if sink == nil {
		return nil, errors.New("speech: audio sink must not be nil")
	}
	if prefs == nil {
		return nil, errors.New("speech: preferences must not be nil")
	}
	return &Speaker{
		synth:   synth,
		sink:    sink,
		prefs:   prefs,
		enabled: prefs.VoiceEnabled(ctx),
	}, nil
}

// OnChange registers the single listener for speaking events.
func (s *Speaker) OnChange(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

func (s *Speaker) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Speaking returns the id of the message being played, if any.
func (s *Speaker) Speaking() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing, s.playing != ""
}

// SetEnabled stores the voice preference. Turning voice off stops any
// playback at once.
func (s *Speaker) SetEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
	if !enabled {
		s.Stop()
	}
	return s.prefs.SetVoiceEnabled(ctx, enabled)
}

// Speak plays text for messageID in the background, stopping whatever was
// playing before. It does nothing while voice is disabled.
func (s *Speaker) Speak(ctx context.Context, messageID, text string) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	stopped := s.releaseLocked()
	playCtx, cancel := context.WithCancel(ctx)
	s.handle++
	handle := s.handle
	s.playing = messageID
	s.cancel = cancel
	listener := s.listener
	s.wg.Add(1)
	s.mu.Unlock()

	if listener != nil {
		if stopped != "" {
			listener(Event{Speaking: false, MessageID: stopped})
		}
		listener(Event{Speaking: true, MessageID: messageID})
	}

	go func() {
		defer s.wg.Done()
		err := s.play(playCtx, text)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("speech: playback failed", "message_id", messageID, "err", err)
		}
		s.finish(handle)
	}()
}

func (s *Speaker) play(ctx context.Context, text string) error {
	audio, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	defer func() { _ = audio.Close() }()
	return s.sink.Play(ctx, audio)
}

// finish releases the handle if it still belongs to the playback that ended.
func (s *Speaker) finish(handle uint64) {
	s.mu.Lock()
	if s.handle != handle || s.playing == "" {
		s.mu.Unlock()
		return
	}
	id := s.releaseLocked()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener(Event{Speaking: false, MessageID: id})
	}
}

// Stop ends the current playback. The stop event fires once per playback.
func (s *Speaker) Stop() {
	s.mu.Lock()
	id := s.releaseLocked()
	listener := s.listener
	s.mu.Unlock()
	if id != "" && listener != nil {
		listener(Event{Speaking: false, MessageID: id})
	}
}

// releaseLocked cancels the playback and returns the id it was playing.
func (s *Speaker) releaseLocked() string {
	id := s.playing
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.playing = ""
	return id
}

// Wait blocks until every background playback has returned.
func (s *Speaker) Wait() {
	s.wg.Wait()
}
