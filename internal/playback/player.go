package playback

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
)

// Player plays server replies carrying base64 encoded audio.
type Player struct {
	factory AudioContextFactory
	logger  *slog.Logger
}

func NewPlayer(factory AudioContextFactory, logger *slog.Logger) *Player {
	return &Player{
		factory: factory,
		logger:  logger.With(slog.String("component", "playback")),
	}
}

// PlayBase64 decodes body and plays it once through a fresh audio context.
// Failures are logged and returned; they never panic the caller.
func (p *Player) PlayBase64(ctx context.Context, body string) (*SampleBuffer, error) {
	buf, err := p.play(ctx, body)
	if err != nil {
		p.logger.Warn("failed to play reply audio", slogError(err))
		return nil, err
	}
	p.logger.Debug("reply audio played",
		slog.Duration("duration", buf.Duration()),
		slog.Int("sample_rate", buf.Format.SampleRate),
		slog.Int("channels", buf.Format.Channels))
	return buf, nil
}

func (p *Player) play(ctx context.Context, body string) (*SampleBuffer, error) {
	data, err := DecodeBase64(body)
	if err != nil {
		return nil, err
	}
	actx, err := p.factory.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create audio context: %w", err)
	}
	defer actx.Close()

	buf, err := actx.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode reply audio: %w", err)
	}
	if err := actx.Play(ctx, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeBase64 extracts the audio bytes from a reply body. It accepts a bare
// base64 string, a JSON string literal, or a data URL.
func DecodeBase64(body string) ([]byte, error) {
	s := strings.TrimSpace(body)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, ErrEmptyPayload
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
			return raw, nil
		}
		return nil, fmt.Errorf("decode base64 reply: %w", err)
	}
	return data, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

var (
	_ AudioContextFactory = (*ExecFactory)(nil)
	_ AudioContextFactory = (*NullFactory)(nil)
)
