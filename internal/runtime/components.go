package runtime

import (
	"fmt"
	"time"

	"github.com/loqalabs/voiceform/internal/audio"
	"github.com/loqalabs/voiceform/internal/capture"
	"github.com/loqalabs/voiceform/internal/config"
	"github.com/loqalabs/voiceform/internal/playback"
)

func newSource(cfg config.CaptureConfig) (capture.Source, audio.Format, error) {
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	switch cfg.Mode {
	case "", "mock":
		return capture.NewMockSource(time.Duration(cfg.MockDurationMS) * time.Millisecond), format, nil
	case "exec":
		src, err := capture.NewExecSource(cfg.Command)
		if err != nil {
			return nil, audio.Format{}, err
		}
		return src, format, nil
	default:
		return nil, audio.Format{}, fmt.Errorf("unknown capture mode %q", cfg.Mode)
	}
}

func newPlaybackFactory(cfg config.PlaybackConfig) (playback.AudioContextFactory, error) {
	switch cfg.Mode {
	case "", "none":
		return playback.NewNullFactory(), nil
	case "exec":
		return playback.NewExecFactory(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown playback mode %q", cfg.Mode)
	}
}
