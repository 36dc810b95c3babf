package capture

import (
	"context"
	"errors"
	"time"

	"github.com/loqalabs/voiceform/internal/audio"
)

var (
	// ErrAccessDenied reports a refused permission or a missing input device.
	ErrAccessDenied     = errors.New("microphone access denied")
	ErrNotRecording     = errors.New("not recording")
	ErrAlreadyRecording = errors.New("already recording")
	ErrClosed           = errors.New("capture session closed")
)

// Stream is an acquired microphone producing 16-bit PCM.
type Stream interface {
	Start() error
	// Stop ends capture and returns the PCM recorded since Start.
	Stop() ([]byte, error)
	Close() error
}

// Source acquires microphone streams.
type Source interface {
	Open(ctx context.Context, format audio.Format) (Stream, error)
}

// Blob is one finished recording, WAV encoded.
type Blob struct {
	Data     []byte
	Format   audio.Format
	Duration time.Duration
}

func (b *Blob) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}
