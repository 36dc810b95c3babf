package submit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/voiceform/internal/config"
)

// Form field names of the processing endpoint.
const (
	FieldName  = "name"
	FieldEmail = "email"
	FieldAudio = "audio"
)

// maxReplyBytes bounds how much of a reply body is read.
const maxReplyBytes = 64 << 20

// Submission is one completed form.
type Submission struct {
	Name  string
	Email string
	Audio []byte
}

// Reply is what the endpoint answered.
type Reply struct {
	Status int
	Body   string
}

const maxErrorBody = 200

// StatusError reports a non-2xx answer.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "…"
	}
	return fmt.Sprintf("endpoint returned %d %s: %s", e.Status, http.StatusText(e.Status), body)
}

// Client posts submissions to the processing endpoint. It never retries.
type Client struct {
	endpoint string
	filename string
	http     *http.Client
	tracer   trace.Tracer
	logger   *slog.Logger
}

func NewClient(cfg config.SubmitConfig, logger *slog.Logger) *Client {
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}
	return NewClientWithHTTP(cfg, httpClient, logger)
}

func NewClientWithHTTP(cfg config.SubmitConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	filename := cfg.AudioFilename
	if filename == "" {
		filename = "audio.wav"
	}
	return &Client{
		endpoint: cfg.Endpoint,
		filename: filename,
		http:     httpClient,
		tracer:   otel.Tracer("github.com/loqalabs/voiceform/submit"),
		logger:   logger.With(slog.String("component", "submit")),
	}
}

func (c *Client) Endpoint() string { return c.endpoint }

// Submit issues exactly one multipart POST and returns the reply body as text.
func (c *Client) Submit(ctx context.Context, s Submission) (Reply, error) {
	ctx, span := c.tracer.Start(ctx, "submit.form",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.url", c.endpoint),
			attribute.Int("voiceform.audio_bytes", len(s.Audio)),
		))
	defer span.End()

	body, contentType, err := c.encode(s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return Reply{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return Reply{}, err
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return Reply{}, fmt.Errorf("post form: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read reply")
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	reply := Reply{Status: resp.StatusCode, Body: string(data)}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := &StatusError{Status: resp.StatusCode, Body: reply.Body}
		span.SetStatus(codes.Error, resp.Status)
		return reply, err
	}

	c.logger.Info("form submitted",
		slog.Int("status", resp.StatusCode),
		slog.Int("reply_bytes", len(data)),
		slog.Duration("latency", time.Since(start)))
	return reply, nil
}

func (c *Client) encode(s Submission) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField(FieldName, s.Name); err != nil {
		return nil, "", err
	}
	if err := w.WriteField(FieldEmail, s.Email); err != nil {
		return nil, "", err
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, FieldAudio, c.filename))
	header.Set("Content-Type", "audio/wav")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(s.Audio); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
