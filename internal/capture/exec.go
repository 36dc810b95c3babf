package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/voiceform/internal/audio"
)

// ExecSource records by running a command that writes raw s16le PCM to stdout,
// e.g. `arecord -q -t raw -f S16_LE -r 16000 -c 1` or an ffmpeg pipeline.
type ExecSource struct {
	cmd []string
	// ProbeWindow bounds the trial capture Open runs against the device.
	ProbeWindow time.Duration
}

const defaultProbeWindow = 250 * time.Millisecond

func NewExecSource(command string) (*ExecSource, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &ExecSource{cmd: args}, nil
}

// Open runs the capture command for a short trial. A command that fails
// before the window closes means the device is missing or refused.
func (e *ExecSource) Open(ctx context.Context, format audio.Format) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := exec.LookPath(e.cmd[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	args := append([]string{path}, e.cmd[1:]...)
	if err := e.probe(ctx, args); err != nil {
		return nil, err
	}
	return &execStream{args: args}, nil
}

func (e *ExecSource) probe(ctx context.Context, args []string) error {
	window := e.ProbeWindow
	if window <= 0 {
		window = defaultProbeWindow
	}
	probeCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(probeCtx, args[0], args[1:]...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = window
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	err := cmd.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	// still recording when the window closed
	if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v: %s", ErrAccessDenied, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

type execStream struct {
	mu     sync.Mutex
	args   []string
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (s *execStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return ErrAlreadyRecording
	}
	s.stdout.Reset()
	s.stderr.Reset()
	cmd := exec.Command(s.args[0], s.args[1:]...)
	cmd.Stdout = &s.stdout
	cmd.Stderr = &s.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	s.cmd = cmd
	return nil
}

func (s *execStream) Stop() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return nil, ErrNotRecording
	}
	// SIGINT lets recorders flush what they have buffered.
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.cmd.Wait()
	s.cmd = nil
	if s.stdout.Len() == 0 && err != nil {
		return nil, fmt.Errorf("capture command failed: %w: %s", err, s.stderr.String())
	}
	return append([]byte(nil), s.stdout.Bytes()...), nil
}

func (s *execStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()
	s.cmd = nil
	return nil
}
