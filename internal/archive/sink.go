// Package archive keeps copies of recordings before they are submitted.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loqalabs/voiceform/internal/config"
)

// Sink stores one recording under name and reports where it went.
type Sink interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// FileSink writes recordings into a directory, overwriting previous copies
// with the same name.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (f *FileSink) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	path := filepath.Join(f.dir, filepath.Base(name))
	tmp, err := os.CreateTemp(f.dir, ".voiceform-*")
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write archive file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("move archive file: %w", err)
	}
	return path, nil
}

type discardSink struct{}

func (discardSink) Save(context.Context, string, []byte) (string, error) { return "", nil }

// Discard is a Sink that keeps nothing.
var Discard Sink = discardSink{}

// New builds the sink selected by cfg.
func New(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (Sink, error) {
	switch cfg.Mode {
	case "", "none":
		return Discard, nil
	case "file":
		return NewFileSink(cfg.Directory), nil
	case "s3":
		sink, err := NewS3Sink(ctx, S3Config{Region: cfg.S3Region, Bucket: cfg.S3Bucket, Prefix: cfg.S3Prefix})
		if err != nil {
			return nil, err
		}
		logger.Info("archiving recordings to s3", slog.String("bucket", cfg.S3Bucket))
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown archive mode %q", cfg.Mode)
	}
}
