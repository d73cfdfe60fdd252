package speech

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSynth struct {
	err   error
	mu    sync.Mutex
	texts []string
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader("audio:" + text)), nil
}

// blockingSink plays until cancelled, or returns at once when finish is set.
type blockingSink struct {
	started chan string
	finish  bool
}

func (b *blockingSink) Play(ctx context.Context, audio io.Reader) error {
	data, _ := io.ReadAll(audio)
	if b.started != nil {
		b.started <- string(data)
	}
	if b.finish {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

type memPrefs struct {
	enabled bool
	saved   []bool
}

func (m *memPrefs) VoiceEnabled(context.Context) bool { return m.enabled }

func (m *memPrefs) SetVoiceEnabled(_ context.Context, v bool) error {
	m.enabled = v
	m.saved = append(m.saved, v)
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) stops() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if !ev.Speaking {
			n++
		}
	}
	return n
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func newSpeaker(t *testing.T, synth Synthesizer, sink AudioSink, prefs *memPrefs) (*Speaker, *eventLog) {
	t.Helper()
	s, err := NewSpeaker(context.Background(), synth, sink, prefs)
	require.NoError(t, err)
	log := &eventLog{}
	s.OnChange(log.add)
	return s, log
}

func TestNewSpeaker_Validation(t *testing.T) {
	_, err := NewSpeaker(context.Background(), nil, &blockingSink{}, &memPrefs{})
	require.Error(t, err)
	_, err = NewSpeaker(context.Background(), &fakeSynth{}, nil, &memPrefs{})
	require.Error(t, err)
	_, err = NewSpeaker(context.Background(), &fakeSynth{}, &blockingSink{}, nil)
	require.Error(t, err)
}

func TestSpeaker_PlaysToCompletion(t *testing.T) {
	sink := &blockingSink{started: make(chan string, 1), finish: true}
	s, log := newSpeaker(t, &fakeSynth{}, sink, &memPrefs{enabled: true})

	s.Speak(context.Background(), "m-1", "hello")
	require.Equal(t, "audio:hello", <-sink.started)
	s.Wait()

	_, speaking := s.Speaking()
	require.False(t, speaking)
	require.Equal(t, []Event{{Speaking: true, MessageID: "m-1"}, {Speaking: false, MessageID: "m-1"}}, log.all())
}

func TestSpeaker_DisableStopsPlaybackExactlyOnce(t *testing.T) {
	sink := &blockingSink{started: make(chan string, 1)}
	prefs := &memPrefs{enabled: true}
	s, log := newSpeaker(t, &fakeSynth{}, sink, prefs)

	s.Speak(context.Background(), "m-1", "hello")
	<-sink.started
	id, speaking := s.Speaking()
	require.True(t, speaking)
	require.Equal(t, "m-1", id)

	require.NoError(t, s.SetEnabled(context.Background(), false))
	_, speaking = s.Speaking()
	require.False(t, speaking)
	s.Wait()

	require.Equal(t, 1, log.stops())
	require.Equal(t, []bool{false}, prefs.saved)

	// A further stop is silent.
	s.Stop()
	require.Equal(t, 1, log.stops())
}

func TestSpeaker_NewPlaybackStopsPrevious(t *testing.T) {
	sink := &blockingSink{started: make(chan string, 2)}
	s, log := newSpeaker(t, &fakeSynth{}, sink, &memPrefs{enabled: true})

	s.Speak(context.Background(), "m-1", "one")
	<-sink.started
	s.Speak(context.Background(), "m-2", "two")
	<-sink.started

	id, _ := s.Speaking()
	require.Equal(t, "m-2", id)

	s.Stop()
	s.Wait()
	require.Equal(t, []Event{
		{Speaking: true, MessageID: "m-1"},
		{Speaking: false, MessageID: "m-1"},
		{Speaking: true, MessageID: "m-2"},
		{Speaking: false, MessageID: "m-2"},
	}, log.all())
}

func TestSpeaker_DisabledDoesNothing(t *testing.T) {
	synth := &fakeSynth{}
	s, log := newSpeaker(t, synth, &blockingSink{finish: true}, &memPrefs{enabled: false})
	require.False(t, s.Enabled())

	s.Speak(context.Background(), "m-1", "hello")
	s.Wait()
	require.Empty(t, synth.texts)
	require.Empty(t, log.all())
}

func TestSpeaker_SynthesisFailureReleasesHandle(t *testing.T) {
	s, log := newSpeaker(t, &fakeSynth{err: errors.New("401")}, &blockingSink{}, &memPrefs{enabled: true})

	s.Speak(context.Background(), "m-1", "hello")
	s.Wait()

	_, speaking := s.Speaking()
	require.False(t, speaking)
	require.Equal(t, 1, log.stops())
}

func TestSpeaker_ContextCancelStops(t *testing.T) {
	sink := &blockingSink{started: make(chan string, 1)}
	s, log := newSpeaker(t, &fakeSynth{}, sink, &memPrefs{enabled: true})

	ctx, cancel := context.WithCancel(context.Background())
	s.Speak(ctx, "m-1", "hello")
	<-sink.started
	cancel()

	done := make(chan struct{})
	go func() { s.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not stop")
	}
	require.Equal(t, 1, log.stops())
}
