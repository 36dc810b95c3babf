package form

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type formMetrics struct {
	submissions metric.Int64Counter
	recording   metric.Float64Histogram
}

func newMetrics(logger *slog.Logger) formMetrics {
	meter := otel.Meter("github.com/loqalabs/voiceform/form")
	submissions, err := meter.Int64Counter("voiceform.submissions",
		metric.WithDescription("Form submissions by outcome"))
	if err != nil {
		logger.Warn("failed to create submissions counter", slogError(err))
		submissions, _ = noop.NewMeterProvider().Meter("").Int64Counter("voiceform.submissions")
	}
	recording, err := meter.Float64Histogram("voiceform.recording.duration",
		metric.WithDescription("Length of captured recordings"),
		metric.WithUnit("s"))
	if err != nil {
		logger.Warn("failed to create recording histogram", slogError(err))
		recording, _ = noop.NewMeterProvider().Meter("").Float64Histogram("voiceform.recording.duration")
	}
	return formMetrics{submissions: submissions, recording: recording}
}

func (m formMetrics) submission(ctx context.Context, outcome string) {
	m.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m formMetrics) recorded(ctx context.Context, d time.Duration) {
	m.recording.Record(ctx, d.Seconds())
}
