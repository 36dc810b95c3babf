package playback

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// ExecFactory plays audio by piping WAV data into a player command such as
// `aplay -q -` or `ffplay -nodisp -autoexit -loglevel quiet -`.
type ExecFactory struct {
	cmd []string
}

func NewExecFactory(command string) (*ExecFactory, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playback command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("playback command is empty")
	}
	return &ExecFactory{cmd: args}, nil
}

func (f *ExecFactory) NewContext() (AudioContext, error) {
	if _, err := exec.LookPath(f.cmd[0]); err != nil {
		return nil, fmt.Errorf("playback command unavailable: %w", err)
	}
	return &execContext{cmd: append([]string(nil), f.cmd...)}, nil
}

type execContext struct {
	cmd    []string
	mu     sync.Mutex
	closed bool
}

func (c *execContext) Decode(data []byte) (*SampleBuffer, error) {
	return decode(data)
}

func (c *execContext) Play(ctx context.Context, buf *SampleBuffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}

	cmd := exec.CommandContext(ctx, c.cmd[0], c.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(buf.source)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback command failed: %w: %s", err, stderr.String())
	}
	return nil
}

func (c *execContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
