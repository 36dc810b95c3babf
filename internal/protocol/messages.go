package protocol

import "time"

// EventType names a step in a form session's lifecycle.
type EventType string

const (
	EventAccessGranted    EventType = "access_granted"
	EventAccessDenied     EventType = "access_denied"
	EventRecordingStarted EventType = "recording_started"
	EventRecordingStopped EventType = "recording_stopped"
	EventSubmitRejected   EventType = "submit_rejected"
	EventSubmitted        EventType = "submitted"
	EventSubmitFailed     EventType = "submit_failed"
	EventPlaybackFailed   EventType = "playback_failed"
	EventSessionClosed    EventType = "session_closed"
)

// FormEvent is journaled locally and published on the bus.
type FormEvent struct {
	SessionID    string    `json:"session_id"`
	SubmissionID string    `json:"submission_id,omitempty"`
	Type         EventType `json:"type"`
	Email        string    `json:"email,omitempty"`
	AudioBytes   int       `json:"audio_bytes,omitempty"`
	DurationMS   int64     `json:"duration_ms,omitempty"`
	Status       int       `json:"status,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// SubjectFor is the bus subject an event is published on.
func SubjectFor(prefix string, t EventType) string {
	return prefix + "." + string(t)
}
