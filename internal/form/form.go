// Package form implements the voice intake form: it owns the name and email
// fields, the microphone session, the last recording and the messages shown
// to the user, and it drives submission and reply playback.
package form

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/voiceform/internal/archive"
	"github.com/loqalabs/voiceform/internal/audio"
	"github.com/loqalabs/voiceform/internal/capture"
	"github.com/loqalabs/voiceform/internal/playback"
	"github.com/loqalabs/voiceform/internal/protocol"
	"github.com/loqalabs/voiceform/internal/submit"
)

// Submitter delivers a completed form.
type Submitter interface {
	Submit(ctx context.Context, s submit.Submission) (submit.Reply, error)
}

// Player plays the reply body returned by the Submitter.
type Player interface {
	PlayBase64(ctx context.Context, body string) (*playback.SampleBuffer, error)
}

// Journal receives lifecycle events.
type Journal interface {
	Record(ctx context.Context, evt protocol.FormEvent) error
}

// Notifier shows confirmations to the user.
type Notifier interface {
	Confirm(message string)
}

type Options struct {
	Source    capture.Source
	Format    audio.Format
	Submitter Submitter
	Player    Player
	Archive   archive.Sink
	// ArchiveName is the file name of the local copy saved on submit.
	ArchiveName string
	Journal     Journal
	Notifier    Notifier
	Logger      *slog.Logger
}

// View is a snapshot of what the user sees.
type View struct {
	SessionID         string
	State             State
	Name              string
	Email             string
	HasRecording      bool
	RecordingBytes    int
	RecordingDuration time.Duration
	Error             string
	Notice            string
}

// Form is safe for concurrent use.
type Form struct {
	opts      Options
	logger    *slog.Logger
	metrics   formMetrics
	sessionID string

	mu      sync.Mutex
	state   State
	name    string
	email   string
	session *capture.Session
	blob    *capture.Blob
	errMsg  string
	notice  string
	closed  bool
}

func New(opts Options) *Form {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Archive == nil {
		opts.Archive = archive.Discard
	}
	if opts.ArchiveName == "" {
		opts.ArchiveName = "input_voice.wav"
	}
	logger := opts.Logger.With(slog.String("component", "form"))
	return &Form{
		opts:      opts,
		logger:    logger,
		metrics:   newMetrics(logger),
		sessionID: uuid.NewString(),
	}
}

func (f *Form) SetName(name string) {
	f.mu.Lock()
	f.name = name
	f.mu.Unlock()
}

func (f *Form) SetEmail(email string) {
	f.mu.Lock()
	f.email = email
	f.mu.Unlock()
}

// View returns the current state.
func (f *Form) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := View{
		SessionID:      f.sessionID,
		State:          f.state,
		Name:           f.name,
		Email:          f.email,
		HasRecording:   f.blob != nil,
		RecordingBytes: f.blob.Size(),
		Error:          f.errMsg,
		Notice:         f.notice,
	}
	if f.blob != nil {
		v.RecordingDuration = f.blob.Duration
	}
	return v
}

// Blob returns the current recording, or nil.
func (f *Form) Blob() *capture.Blob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blob
}

// RequestAccess acquires the microphone. A new session replaces and releases
// the previous one.
func (f *Form) RequestAccess(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.state == StateRecording || f.state == StateSubmitting {
		st := f.state
		f.mu.Unlock()
		return &TransitionError{Op: "request microphone access", State: st}
	}
	f.mu.Unlock()

	// the permission prompt may block, so the lock is not held here
	sess, err := capture.NewSession(ctx, f.opts.Source, f.opts.Format)

	f.mu.Lock()
	if err != nil {
		f.errMsg = MsgMicrophone
		f.mu.Unlock()
		f.logger.Warn("microphone access failed", slogError(err))
		f.record(ctx, protocol.FormEvent{Type: protocol.EventAccessDenied, Detail: err.Error()})
		return fmt.Errorf("request microphone access: %w", err)
	}
	if f.closed {
		f.mu.Unlock()
		_ = sess.Close()
		return ErrClosed
	}
	prev := f.session
	f.session = sess
	if f.blob != nil {
		f.state = StateStopped
	} else {
		f.state = StateAccessGranted
	}
	f.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			f.logger.Warn("failed to release previous capture session", slogError(err))
		}
	}
	f.logger.Info("microphone access granted")
	f.record(ctx, protocol.FormEvent{Type: protocol.EventAccessGranted})
	return nil
}

// Start begins recording. Without a session it does nothing.
func (f *Form) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.session == nil {
		f.mu.Unlock()
		return nil
	}
	if !canStart(f.state) {
		st := f.state
		f.mu.Unlock()
		return &TransitionError{Op: "start recording", State: st}
	}
	if err := f.session.Start(); err != nil {
		f.errMsg = MsgRecordingFailed
		f.mu.Unlock()
		f.logger.Warn("failed to start recording", slogError(err))
		return err
	}
	f.state = StateRecording
	f.mu.Unlock()

	f.record(ctx, protocol.FormEvent{Type: protocol.EventRecordingStarted})
	return nil
}

// Stop finishes recording and keeps the result, replacing any earlier one.
// Without a session it does nothing.
func (f *Form) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.session == nil {
		f.mu.Unlock()
		return nil
	}
	if f.state != StateRecording {
		st := f.state
		f.mu.Unlock()
		return &TransitionError{Op: "stop recording", State: st}
	}
	blob, err := f.session.Stop()
	if err != nil {
		f.errMsg = MsgRecordingFailed
		if f.blob != nil {
			f.state = StateStopped
		} else {
			f.state = StateAccessGranted
		}
		f.mu.Unlock()
		f.logger.Warn("failed to stop recording", slogError(err))
		return err
	}
	f.blob = blob
	f.state = StateStopped
	f.mu.Unlock()

	f.metrics.recorded(ctx, blob.Duration)
	f.logger.Info("recording captured", slog.Int("bytes", blob.Size()), slog.Duration("duration", blob.Duration))
	f.record(ctx, protocol.FormEvent{
		Type:       protocol.EventRecordingStopped,
		AudioBytes: blob.Size(),
		DurationMS: blob.Duration.Milliseconds(),
	})
	return nil
}

// Submit validates the form, keeps a local copy of the recording, posts it and
// plays the reply. The network outcome decides success.
func (f *Form) Submit(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.state == StateSubmitting {
		f.mu.Unlock()
		return ErrBusy
	}
	if f.name == "" || f.email == "" || f.blob == nil {
		f.errMsg = MsgRequired
		f.mu.Unlock()
		f.metrics.submission(ctx, "rejected")
		f.record(ctx, protocol.FormEvent{Type: protocol.EventSubmitRejected})
		return ErrIncomplete
	}
	if f.state == StateRecording {
		f.mu.Unlock()
		return &TransitionError{Op: "submit", State: StateRecording}
	}
	prev := f.state
	f.state = StateSubmitting
	blob := f.blob
	sub := submit.Submission{Name: f.name, Email: f.email, Audio: blob.Data}
	f.mu.Unlock()

	submissionID := uuid.NewString()
	logger := f.logger.With(slog.String("submission_id", submissionID))

	if loc, err := f.opts.Archive.Save(ctx, path.Join(submissionID, f.opts.ArchiveName), sub.Audio); err != nil {
		logger.Warn("failed to save local copy of recording", slogError(err))
	} else if loc != "" {
		logger.Info("saved local copy of recording", slog.String("location", loc))
	}

	reply, err := f.opts.Submitter.Submit(ctx, sub)
	if err != nil {
		f.mu.Lock()
		f.errMsg = MsgSubmitFailed
		f.state = prev
		f.mu.Unlock()

		logger.Error("form submission failed", slogError(err))
		f.metrics.submission(ctx, "failed")
		evt := protocol.FormEvent{
			SubmissionID: submissionID,
			Type:         protocol.EventSubmitFailed,
			Email:        sub.Email,
			AudioBytes:   len(sub.Audio),
			Detail:       err.Error(),
		}
		var statusErr *submit.StatusError
		if errors.As(err, &statusErr) {
			evt.Status = statusErr.Status
		}
		f.record(ctx, evt)
		return fmt.Errorf("submit form: %w", err)
	}

	f.mu.Lock()
	// edits made while the request was in flight are kept
	if f.name == sub.Name {
		f.name = ""
	}
	if f.email == sub.Email {
		f.email = ""
	}
	if f.blob == blob {
		f.blob = nil
	}
	f.errMsg = ""
	f.notice = ""
	if f.session != nil {
		f.state = StateAccessGranted
	} else {
		f.state = StateIdle
	}
	f.mu.Unlock()

	f.metrics.submission(ctx, "submitted")
	f.record(ctx, protocol.FormEvent{
		SubmissionID: submissionID,
		Type:         protocol.EventSubmitted,
		Email:        sub.Email,
		AudioBytes:   len(sub.Audio),
		Status:       reply.Status,
	})
	if f.opts.Notifier != nil {
		f.opts.Notifier.Confirm(MsgSubmitted)
	}

	if f.opts.Player != nil {
		if _, err := f.opts.Player.PlayBase64(ctx, reply.Body); err != nil {
			f.mu.Lock()
			f.notice = MsgPlaybackFailed
			f.mu.Unlock()
			f.record(ctx, protocol.FormEvent{
				SubmissionID: submissionID,
				Type:         protocol.EventPlaybackFailed,
				Detail:       err.Error(),
			})
		}
	}
	return nil
}

// Close releases the microphone session. The form cannot be used afterwards.
func (f *Form) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	sess := f.session
	f.session = nil
	f.state = StateIdle
	f.mu.Unlock()

	var err error
	if sess != nil {
		err = sess.Close()
	}
	f.record(ctx, protocol.FormEvent{Type: protocol.EventSessionClosed})
	return err
}

func (f *Form) record(ctx context.Context, evt protocol.FormEvent) {
	if f.opts.Journal == nil {
		return
	}
	evt.SessionID = f.sessionID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	// journaling must not be cut short by a cancelled request
	if err := f.opts.Journal.Record(context.WithoutCancel(ctx), evt); err != nil {
		f.logger.Warn("failed to journal form event", slog.String("type", string(evt.Type)), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
