package playback

import (
	"context"
	"sync"
)

// NullFactory creates contexts that decode but never touch an output device.
// Played buffers are kept for inspection.
type NullFactory struct {
	mu       sync.Mutex
	played   []*SampleBuffer
	contexts int
	closed   int
}

func NewNullFactory() *NullFactory { return &NullFactory{} }

func (f *NullFactory) NewContext() (AudioContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contexts++
	return &nullContext{factory: f}, nil
}

// Played returns the buffers played so far.
func (f *NullFactory) Played() []*SampleBuffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*SampleBuffer(nil), f.played...)
}

// Open reports contexts created but not yet closed.
func (f *NullFactory) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contexts - f.closed
}

type nullContext struct {
	factory *NullFactory
	closed  bool
}

func (c *nullContext) Decode(data []byte) (*SampleBuffer, error) {
	return decode(data)
}

func (c *nullContext) Play(ctx context.Context, buf *SampleBuffer) error {
	if c.closed {
		return ErrContextClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.factory.mu.Lock()
	c.factory.played = append(c.factory.played, buf)
	c.factory.mu.Unlock()
	return nil
}

func (c *nullContext) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.factory.mu.Lock()
	c.factory.closed++
	c.factory.mu.Unlock()
	return nil
}
