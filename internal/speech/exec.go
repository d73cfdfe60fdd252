package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// ExecSink pipes audio into an external player such as
// "mpg123 -q -" or "ffplay -nodisp -autoexit -loglevel quiet -".
type ExecSink struct {
	name string
	args []string
}

func NewExecSink(command string) (*ExecSink, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("speech: player command must not be empty")
	}
	return &ExecSink{name: fields[0], args: fields[1:]}, nil
}

func (e *ExecSink) Play(ctx context.Context, audio io.Reader) error {
	cmd := exec.CommandContext(ctx, e.name, e.args...)
	cmd.Stdin = audio
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("speech: player %s: %w: %s", e.name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ExecRecorder captures one recording from an external command writing audio
// to stdout, e.g. "arecord -q -d 5 -f cd -t wav".
type ExecRecorder struct {
	name     string
	args     []string
	filename string
}

func NewExecRecorder(command, filename string) (*ExecRecorder, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, ErrUnsupported
	}
	if filename == "" {
		filename = "recording.wav"
	}
	return &ExecRecorder{name: fields[0], args: fields[1:], filename: filename}, nil
}

func (e *ExecRecorder) Record(ctx context.Context) (string, io.Reader, error) {
	if _, err := exec.LookPath(e.name); err != nil {
		return "", nil, fmt.Errorf("%w: %s not found", ErrUnsupported, e.name)
	}
	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.name, e.args...)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", nil, fmt.Errorf("speech: recorder %s: %w: %s", e.name, err, strings.TrimSpace(stderr.String()))
	}
	return e.filename, &out, nil
}
