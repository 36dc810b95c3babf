package form

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loqalabs/voiceform/internal/archive"
	"github.com/loqalabs/voiceform/internal/audio"
	"github.com/loqalabs/voiceform/internal/capture"
	"github.com/loqalabs/voiceform/internal/config"
	"github.com/loqalabs/voiceform/internal/playback"
	"github.com/loqalabs/voiceform/internal/protocol"
	"github.com/loqalabs/voiceform/internal/submit"
)

var testFormat = audio.Format{SampleRate: 8000, Channels: 1}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []submit.Submission
	reply submit.Reply
	err   error
	block chan struct{}
}

func (f *fakeSubmitter) Submit(ctx context.Context, s submit.Submission) (submit.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.reply, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Confirm(message string) {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
}

type memJournal struct {
	mu     sync.Mutex
	events []protocol.FormEvent
}

func (j *memJournal) Record(_ context.Context, evt protocol.FormEvent) error {
	j.mu.Lock()
	j.events = append(j.events, evt)
	j.mu.Unlock()
	return nil
}

func (j *memJournal) types() []protocol.EventType {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []protocol.EventType
	for _, e := range j.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	form      *Form
	source    *capture.MockSource
	submitter *fakeSubmitter
	factory   *playback.NullFactory
	notifier  *fakeNotifier
	journal   *memJournal
}

func silentReply(t *testing.T, d time.Duration) string {
	t.Helper()
	data, err := audio.EncodeWAV(audio.Silence(testFormat, d), testFormat)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(data)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		source:    capture.NewMockSource(250 * time.Millisecond),
		submitter: &fakeSubmitter{reply: submit.Reply{Status: 200, Body: silentReply(t, 100*time.Millisecond)}},
		factory:   playback.NewNullFactory(),
		notifier:  &fakeNotifier{},
		journal:   &memJournal{},
	}
	h.form = New(Options{
		Source:    h.source,
		Format:    testFormat,
		Submitter: h.submitter,
		Player:    playback.NewPlayer(h.factory, newLogger()),
		Journal:   h.journal,
		Notifier:  h.notifier,
		Logger:    newLogger(),
	})
	t.Cleanup(func() { _ = h.form.Close(context.Background()) })
	return h
}

func (h *harness) record(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.form.RequestAccess(ctx))
	require.NoError(t, h.form.Start(ctx))
	require.NoError(t, h.form.Stop(ctx))
}

func TestSubmitRequiresAllFields(t *testing.T) {
	cases := map[string]struct {
		name, email string
		record      bool
	}{
		"no name":      {email: "a@x.com", record: true},
		"no email":     {name: "Ada", record: true},
		"no recording": {name: "Ada", email: "a@x.com"},
		"nothing":      {},
	}
	for label, tc := range cases {
		t.Run(label, func(t *testing.T) {
			h := newHarness(t)
			if tc.record {
				h.record(t)
			}
			h.form.SetName(tc.name)
			h.form.SetEmail(tc.email)

			err := h.form.Submit(context.Background())
			require.ErrorIs(t, err, ErrIncomplete)
			require.Zero(t, h.submitter.count())
			require.Equal(t, MsgRequired, h.form.View().Error)
			require.Empty(t, h.notifier.messages)
		})
	}
}

func TestSubmitSuccessResetsForm(t *testing.T) {
	h := newHarness(t)
	h.record(t)
	h.form.SetName("Ada")
	h.form.SetEmail("a@x.com")
	blob := h.form.Blob()
	require.NotNil(t, blob)

	require.NoError(t, h.form.Submit(context.Background()))

	require.Equal(t, 1, h.submitter.count())
	sent := h.submitter.calls[0]
	require.Equal(t, "Ada", sent.Name)
	require.Equal(t, "a@x.com", sent.Email)
	require.Equal(t, blob.Data, sent.Audio)

	v := h.form.View()
	require.Empty(t, v.Name)
	require.Empty(t, v.Email)
	require.False(t, v.HasRecording)
	require.Empty(t, v.Error)
	require.Empty(t, v.Notice)
	require.Equal(t, StateAccessGranted, v.State)
	require.Equal(t, []string{MsgSubmitted}, h.notifier.messages)

	played := h.factory.Played()
	require.Len(t, played, 1)
	require.Equal(t, 100*time.Millisecond, played[0].Duration())
	require.Contains(t, h.journal.types(), protocol.EventSubmitted)
}

func TestSubmitFailureKeepsFields(t *testing.T) {
	h := newHarness(t)
	h.submitter.err = &submit.StatusError{Status: 502, Body: "bad gateway"}
	h.record(t)
	h.form.SetName("Ada")
	h.form.SetEmail("a@x.com")

	err := h.form.Submit(context.Background())
	var statusErr *submit.StatusError
	require.ErrorAs(t, err, &statusErr)

	v := h.form.View()
	require.Equal(t, MsgSubmitFailed, v.Error)
	require.Equal(t, "Ada", v.Name)
	require.True(t, v.HasRecording)
	require.Equal(t, StateStopped, v.State)
	require.Empty(t, h.notifier.messages)
	require.Empty(t, h.factory.Played())

	h.journal.mu.Lock()
	last := h.journal.events[len(h.journal.events)-1]
	h.journal.mu.Unlock()
	require.Equal(t, protocol.EventSubmitFailed, last.Type)
	require.Equal(t, 502, last.Status)
}

func TestPlaybackFailureIsNotice(t *testing.T) {
	h := newHarness(t)
	h.submitter.reply = submit.Reply{Status: 200, Body: "this is not audio"}
	h.record(t)
	h.form.SetName("Ada")
	h.form.SetEmail("a@x.com")

	require.NoError(t, h.form.Submit(context.Background()))
	v := h.form.View()
	require.Empty(t, v.Error)
	require.Equal(t, MsgPlaybackFailed, v.Notice)
	require.False(t, v.HasRecording)
	require.Equal(t, []string{MsgSubmitted}, h.notifier.messages)
	require.Contains(t, h.journal.types(), protocol.EventPlaybackFailed)
}

func TestRequestAccessDenied(t *testing.T) {
	h := newHarness(t)
	h.source.Deny = true

	err := h.form.RequestAccess(context.Background())
	require.ErrorIs(t, err, capture.ErrAccessDenied)
	v := h.form.View()
	require.Equal(t, MsgMicrophone, v.Error)
	require.Equal(t, StateIdle, v.State)
	require.Zero(t, h.source.Active())

	// no session, so recording controls stay inert
	require.NoError(t, h.form.Start(context.Background()))
	require.Equal(t, StateIdle, h.form.View().State)
}

func TestStartStopWithoutSessionAreNoops(t *testing.T) {
	h := newHarness(t)
	before := h.form.View()

	require.NoError(t, h.form.Start(context.Background()))
	require.NoError(t, h.form.Stop(context.Background()))

	require.Equal(t, before, h.form.View())
	require.Empty(t, h.journal.types())
}

func TestGuardedTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.form.RequestAccess(ctx))

	var terr *TransitionError
	require.ErrorAs(t, h.form.Stop(ctx), &terr)
	require.Equal(t, StateAccessGranted, terr.State)

	require.NoError(t, h.form.Start(ctx))
	require.ErrorAs(t, h.form.Start(ctx), &terr)
	require.ErrorAs(t, h.form.RequestAccess(ctx), &terr)

	h.form.SetName("Ada")
	h.form.SetEmail("a@x.com")
	require.NoError(t, h.form.Stop(ctx))
	first := h.form.Blob()

	// a new recording replaces the previous one
	require.NoError(t, h.form.Start(ctx))
	require.ErrorAs(t, h.form.Submit(ctx), &terr)
	require.NoError(t, h.form.Stop(ctx))
	require.NotSame(t, first, h.form.Blob())
	require.Equal(t, StateStopped, h.form.View().State)
}

func TestOverlappingSubmitIsRejected(t *testing.T) {
	h := newHarness(t)
	h.submitter.block = make(chan struct{})
	h.record(t)
	h.form.SetName("Ada")
	h.form.SetEmail("a@x.com")

	done := make(chan error, 1)
	go func() { done <- h.form.Submit(context.Background()) }()
	require.Eventually(t, func() bool { return h.form.View().State == StateSubmitting }, 2*time.Second, 5*time.Millisecond)

	require.ErrorIs(t, h.form.Submit(context.Background()), ErrBusy)
	close(h.submitter.block)
	require.NoError(t, <-done)
	require.Equal(t, 1, h.submitter.count())
}

func TestRequestAccessReplacesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.form.RequestAccess(ctx))
	require.NoError(t, h.form.RequestAccess(ctx))
	require.Equal(t, 1, h.source.Active())

	require.NoError(t, h.form.Close(ctx))
	require.Zero(t, h.source.Active())
	require.ErrorIs(t, h.form.RequestAccess(ctx), ErrClosed)
}

func TestSubmitEndToEnd(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		parts = map[string][]byte{}
	)
	reply := silentReply(t, 300*time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		calls++
		parts[submit.FieldName] = []byte(r.FormValue(submit.FieldName))
		parts[submit.FieldEmail] = []byte(r.FormValue(submit.FieldEmail))
		if file, header, err := r.FormFile(submit.FieldAudio); err == nil {
			data, _ := io.ReadAll(file)
			parts[submit.FieldAudio] = data
			parts["filename"] = []byte(header.Filename)
		}
		mu.Unlock()
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)

	downloads := filepath.Join(t.TempDir(), "downloads")
	factory := playback.NewNullFactory()
	notifier := &fakeNotifier{}
	// 228 frames of 8kHz mono PCM plus the 44 byte header is a 500 byte WAV
	source := capture.NewMockSource(28500 * time.Microsecond)
	f := New(Options{
		Source:      source,
		Format:      testFormat,
		Submitter:   submit.NewClient(config.SubmitConfig{Endpoint: srv.URL + "/process_audio", AudioFilename: "audio.wav"}, newLogger()),
		Player:      playback.NewPlayer(factory, newLogger()),
		Archive:     archive.NewFileSink(downloads),
		ArchiveName: "input_voice.wav",
		Notifier:    notifier,
		Logger:      newLogger(),
	})
	t.Cleanup(func() { _ = f.Close(context.Background()) })

	ctx := context.Background()
	f.SetName("Ada")
	f.SetEmail("a@x.com")
	require.NoError(t, f.RequestAccess(ctx))
	require.NoError(t, f.Start(ctx))
	require.NoError(t, f.Stop(ctx))
	blob := f.Blob()
	require.Equal(t, 500, blob.Size())

	require.NoError(t, f.Submit(ctx))

	mu.Lock()
	require.Equal(t, 1, calls)
	require.Equal(t, "Ada", string(parts[submit.FieldName]))
	require.Equal(t, "a@x.com", string(parts[submit.FieldEmail]))
	require.Equal(t, blob.Data, parts[submit.FieldAudio])
	require.Equal(t, "audio.wav", string(parts["filename"]))
	mu.Unlock()

	v := f.View()
	require.Empty(t, v.Name)
	require.Empty(t, v.Email)
	require.False(t, v.HasRecording)
	require.Equal(t, []string{MsgSubmitted}, notifier.messages)
	require.FileExists(t, filepath.Join(downloads, "input_voice.wav"))
	require.Len(t, factory.Played(), 1)
	require.Equal(t, 300*time.Millisecond, factory.Played()[0].Duration())
}

func TestJournalsFanOut(t *testing.T) {
	a, b := &memJournal{}, &memJournal{}
	j := Journals(a, nil, b)
	require.NoError(t, j.Record(context.Background(), protocol.FormEvent{Type: protocol.EventSubmitted}))
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)

	failing := Journals(journalFunc(func(context.Context, protocol.FormEvent) error { return errors.New("down") }), a)
	require.Error(t, failing.Record(context.Background(), protocol.FormEvent{}))
	require.Len(t, a.events, 2)
}

type journalFunc func(context.Context, protocol.FormEvent) error

func (f journalFunc) Record(ctx context.Context, evt protocol.FormEvent) error { return f(ctx, evt) }

func TestRequestAccessFailingDevice(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	src, err := capture.NewExecSource(`sh -c "echo 'arecord: no such device' >&2; exit 1"`)
	require.NoError(t, err)
	f := New(Options{Source: src, Format: testFormat, Submitter: &fakeSubmitter{}, Logger: newLogger()})
	t.Cleanup(func() { _ = f.Close(context.Background()) })

	err = f.RequestAccess(context.Background())
	require.ErrorIs(t, err, capture.ErrAccessDenied)
	v := f.View()
	require.Equal(t, MsgMicrophone, v.Error)
	require.Equal(t, StateIdle, v.State)

	require.NoError(t, f.Start(context.Background()))
	require.Equal(t, StateIdle, f.View().State)
}

func TestEditsDuringSubmitSurvive(t *testing.T) {
	h := newHarness(t)
	h.submitter.block = make(chan struct{})
	h.record(t)
	h.form.SetName("Ada")
	h.form.SetEmail("a@x.com")

	done := make(chan error, 1)
	go func() { done <- h.form.Submit(context.Background()) }()
	require.Eventually(t, func() bool { return h.form.View().State == StateSubmitting }, 2*time.Second, 5*time.Millisecond)

	h.form.SetName("Grace")
	close(h.submitter.block)
	require.NoError(t, <-done)

	v := h.form.View()
	require.Equal(t, "Grace", v.Name)
	require.Empty(t, v.Email)
	require.False(t, v.HasRecording)
	require.Equal(t, "Ada", h.submitter.calls[0].Name)
}
