package playback

import (
	"context"
	"errors"

	"github.com/loqalabs/voiceform/internal/audio"
)

var (
	ErrEmptyPayload  = errors.New("empty audio payload")
	ErrContextClosed = errors.New("audio context closed")
)

// SampleBuffer is decoded audio ready to be played. It keeps the encoded
// source so players that consume containers can stream it unchanged.
type SampleBuffer struct {
	audio.Buffer
	source []byte
}

// AudioContext decodes and plays audio. A context is used for one reply and
// closed afterwards.
type AudioContext interface {
	Decode(data []byte) (*SampleBuffer, error)
	Play(ctx context.Context, buf *SampleBuffer) error
	Close() error
}

// AudioContextFactory creates audio contexts.
type AudioContextFactory interface {
	NewContext() (AudioContext, error)
}

func decode(data []byte) (*SampleBuffer, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	buf, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	return &SampleBuffer{Buffer: *buf, source: data}, nil
}
