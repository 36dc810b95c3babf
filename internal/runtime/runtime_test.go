package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/voiceform/internal/config"
	"github.com/loqalabs/voiceform/internal/eventstore"
	"github.com/loqalabs/voiceform/internal/form"
	"github.com/loqalabs/voiceform/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T, endpoint string) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Capture.SampleRate = 8000
	cfg.Capture.MockDurationMS = 200
	cfg.Submit.Endpoint = endpoint
	cfg.Submit.TimeoutMS = 5000
	cfg.Archive.Directory = filepath.Join(dir, "downloads")
	cfg.EventStore.Path = filepath.Join(dir, "events.db")
	cfg.EventStore.RetentionMode = "persistent"
	return cfg
}

func audioServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process_audio" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if _, _, err := r.FormFile("audio"); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		calls.Add(1)
		// a WAV header with no samples
		_, _ = w.Write([]byte("UklGRiQAAABXQVZFZm10IBAAAAABAAEAQB8AAIA+AAACABAAZGF0YQAAAAA="))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestStartRunsScriptedSession(t *testing.T) {
	srv, calls := audioServer(t)
	cfg := testConfig(t, srv.URL+"/process_audio")

	script := "name Ada\nemail a@x.com\naccess\nstart\nstop\nsubmit\nquit\n"
	out := &bytes.Buffer{}
	rt := New(cfg, newLogger(), strings.NewReader(script), out)
	require.NoError(t, rt.Start(context.Background()))

	require.EqualValues(t, 1, calls.Load())
	require.Contains(t, out.String(), "[ok] "+form.MsgSubmitted)
	require.FileExists(t, filepath.Join(cfg.Archive.Directory, "input_voice.wav"))

	store, err := eventstore.Open(context.Background(), cfg.EventStore, newLogger())
	require.NoError(t, err)
	defer store.Close()
	submitted, err := store.CountByType(context.Background(), protocol.EventSubmitted)
	require.NoError(t, err)
	require.Equal(t, 1, submitted)
	closed, err := store.CountByType(context.Background(), protocol.EventSessionClosed)
	require.NoError(t, err)
	require.Equal(t, 1, closed)
}

func TestStartReportsUnreachableEndpoint(t *testing.T) {
	srv, _ := audioServer(t)
	endpoint := srv.URL + "/process_audio"
	srv.Close()

	cfg := testConfig(t, endpoint)
	script := "access\nstart\nstop\nname Ada\nemail a@x.com\nsubmit\nstatus\n"
	out := &bytes.Buffer{}
	require.NoError(t, New(cfg, newLogger(), strings.NewReader(script), out).Start(context.Background()))

	require.Contains(t, out.String(), "[error] "+form.MsgSubmitFailed)
	require.Contains(t, out.String(), "name:      Ada")
	require.NotContains(t, out.String(), "[ok]")
}

func TestStartRejectsBadCaptureMode(t *testing.T) {
	cfg := testConfig(t, config.DefaultEndpoint)
	cfg.Capture.Mode = "telepathy"
	err := New(cfg, newLogger(), strings.NewReader(""), io.Discard).Start(context.Background())
	require.ErrorContains(t, err, "unknown capture mode")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestOpsServer(t *testing.T) {
	srv, _ := audioServer(t)
	cfg := testConfig(t, srv.URL+"/process_audio")
	cfg.HTTP.Enabled = true
	cfg.HTTP.Port = 0

	in, stdin := io.Pipe()
	out := &syncBuffer{}
	rt := New(cfg, newLogger(), in, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	get := func(path string) (int, string) {
		resp, err := http.Get(fmt.Sprintf("http://%s%s", rt.Addr(), path))
		if err != nil {
			return 0, ""
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	require.Eventually(t, func() bool {
		if rt.Addr() == "" {
			return false
		}
		code, _ := get("/readyz")
		return code == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	code, body := get("/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)

	_, err := io.WriteString(stdin, "name Ada\nemail a@x.com\naccess\nstart\nstop\nsubmit\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), form.MsgSubmitted)
	}, 5*time.Second, 10*time.Millisecond)

	code, body = get("/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "voiceform_submissions")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}
	_ = stdin.Close()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestEmbeddedBusReceivesEvents(t *testing.T) {
	srv, _ := audioServer(t)
	cfg := testConfig(t, srv.URL+"/process_audio")
	cfg.EventStore.RetentionMode = "ephemeral"
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = freePort(t)

	in, stdin := io.Pipe()
	rt := New(cfg, newLogger(), in, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	url := fmt.Sprintf("nats://127.0.0.1:%d", cfg.Bus.Port)
	var conn *nats.Conn
	require.Eventually(t, func() bool {
		c, err := nats.Connect(url)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 5*time.Second, 20*time.Millisecond)
	defer conn.Close()

	msgs := make(chan *nats.Msg, 32)
	sub, err := conn.ChanSubscribe(cfg.Bus.SubjectPrefix+".>", msgs)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, conn.Flush())

	_, err = io.WriteString(stdin, "access\nstart\nstop\nname Ada\nemail a@x.com\nsubmit\n")
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-msgs:
			if msg.Subject != protocol.SubjectFor(cfg.Bus.SubjectPrefix, protocol.EventSubmitted) {
				continue
			}
			var evt protocol.FormEvent
			require.NoError(t, json.Unmarshal(msg.Data, &evt))
			require.Equal(t, "a@x.com", evt.Email)
			require.NotEmpty(t, evt.SubmissionID)

			cancel()
			require.NoError(t, <-done)
			_ = stdin.Close()
			return
		case <-deadline:
			t.Fatal("no submitted event published")
		}
	}
}
