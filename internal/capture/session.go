package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loqalabs/voiceform/internal/audio"
)

// Session binds an open stream to the format its recordings are encoded in.
type Session struct {
	mu        sync.Mutex
	stream    Stream
	format    audio.Format
	recording bool
	closed    bool
	startedAt time.Time
	clock     func() time.Time
}

// NewSession requests microphone access from src.
func NewSession(ctx context.Context, src Source, format audio.Format) (*Session, error) {
	stream, err := src.Open(ctx, format)
	if err != nil {
		return nil, err
	}
	return &Session{stream: stream, format: format, clock: time.Now}, nil
}

func (s *Session) Format() audio.Format { return s.format }

func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Start begins capture.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.recording {
		return ErrAlreadyRecording
	}
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	s.recording = true
	s.startedAt = s.clock()
	return nil
}

// Stop finalizes capture and encodes the recording.
func (s *Session) Stop() (*Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if !s.recording {
		return nil, ErrNotRecording
	}
	s.recording = false

	pcm, err := s.stream.Stop()
	if err != nil {
		return nil, fmt.Errorf("stop capture: %w", err)
	}
	// a process killed mid-frame can leave a partial frame
	if frame := s.format.Channels * audio.BitDepth / 8; frame > 0 {
		pcm = pcm[:len(pcm)-len(pcm)%frame]
	}

	data, err := audio.EncodeWAV(pcm, s.format)
	if err != nil {
		return nil, err
	}
	var duration time.Duration
	if rate := s.format.BytesPerSecond(); rate > 0 {
		duration = time.Duration(len(pcm)) * time.Second / time.Duration(rate)
	}
	return &Blob{Data: data, Format: s.format, Duration: duration}, nil
}

// Close releases the microphone. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.recording = false
	return s.stream.Close()
}
