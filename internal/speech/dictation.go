package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrUnsupported means no speech input is available on this system.
var ErrUnsupported = errors.New("speech: speech recognition is not supported")

// ErrNoSpeech is the RecognitionError cause for an empty transcript.
var ErrNoSpeech = errors.New("speech: no speech was detected")

// RecognitionError is a failure while recognizing an attempted recording.
type RecognitionError struct {
	Err error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("speech: recognition failed: %v", e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Recognizer yields the final transcript of one recording.
type Recognizer interface {
	Recognize(ctx context.Context) (string, error)
}

// Recorder captures one recording.
type Recorder interface {
	Record(ctx context.Context) (filename string, audio io.Reader, err error)
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// TranscriptionRecognizer records with a Recorder and transcribes remotely.
type TranscriptionRecognizer struct {
	recorder    Recorder
	transcriber Transcriber
}

func NewTranscriptionRecognizer(r Recorder, t Transcriber) (*TranscriptionRecognizer, error) {
	if t == nil {
		return nil, errors.New("speech: transcriber must not be nil")
	}
	return &TranscriptionRecognizer{recorder: r, transcriber: t}, nil
}

func (r *TranscriptionRecognizer) Recognize(ctx context.Context) (string, error) {
	if r.recorder == nil {
		return "", ErrUnsupported
	}
	name, audio, err := r.recorder.Record(ctx)
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			return "", err
		}
		return "", &RecognitionError{Err: err}
	}
	text, err := r.transcriber.Transcribe(ctx, name, audio)
	if err != nil {
		return "", &RecognitionError{Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &RecognitionError{Err: ErrNoSpeech}
	}
	return text, nil
}

// speakingChecker is satisfied by *Speaker.
type speakingChecker interface {
	Speaking() (string, bool)
}

// ErrBusy is returned when recording is refused because the companion is
// speaking.
var ErrBusy = errors.New("speech: cannot record while speaking")

// Dictation holds the message draft and appends recognized speech to it.
type Dictation struct {
	rec     Recognizer
	speaker speakingChecker

	mu    sync.Mutex
	draft string
}

// NewDictation builds a Dictation. speaker may be nil.
func NewDictation(rec Recognizer, speaker speakingChecker) *Dictation {
	return &Dictation{rec: rec, speaker: speaker}
}

// Record captures one utterance and appends its transcript to the draft.
func (d *Dictation) Record(ctx context.Context) (string, error) {
	if d.rec == nil {
		return d.Draft(), ErrUnsupported
	}
	if d.speaker != nil {
		if _, speaking := d.speaker.Speaking(); speaking {
			return d.Draft(), ErrBusy
		}
	}
	text, err := d.rec.Recognize(ctx)
	if err != nil {
		return d.Draft(), err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.draft = strings.TrimSpace(d.draft + " " + text)
	return d.draft, nil
}

func (d *Dictation) Draft() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draft
}

func (d *Dictation) SetDraft(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.draft = s
}

// Take returns the trimmed draft and clears it.
func (d *Dictation) Take() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := strings.TrimSpace(d.draft)
	d.draft = ""
	return s
}
