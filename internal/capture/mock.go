package capture

import (
	"context"
	"sync"
	"time"

	"github.com/loqalabs/voiceform/internal/audio"
)

// MockSource hands out streams that record a fixed stretch of silence.
type MockSource struct {
	Duration time.Duration
	// Deny makes Open fail as if permission had been refused.
	Deny bool

	mu     sync.Mutex
	opened int
	closed int
}

func NewMockSource(duration time.Duration) *MockSource {
	return &MockSource{Duration: duration}
}

func (m *MockSource) Open(ctx context.Context, format audio.Format) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Deny {
		return nil, ErrAccessDenied
	}
	m.opened++
	return &mockStream{src: m, format: format}, nil
}

// Active reports how many streams are currently held.
func (m *MockSource) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened - m.closed
}

type mockStream struct {
	src     *MockSource
	format  audio.Format
	started bool
	closed  bool
}

func (s *mockStream) Start() error {
	s.started = true
	return nil
}

func (s *mockStream) Stop() ([]byte, error) {
	if !s.started {
		return nil, ErrNotRecording
	}
	s.started = false
	return audio.Silence(s.format, s.src.Duration), nil
}

func (s *mockStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.src.mu.Lock()
	s.src.closed++
	s.src.mu.Unlock()
	return nil
}
