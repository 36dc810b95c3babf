package form

import (
	"errors"
	"fmt"
)

// State is the form's position in the capture and submit flow.
type State int

const (
	StateIdle State = iota
	StateAccessGranted
	StateRecording
	StateStopped
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccessGranted:
		return "access-granted"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	case StateSubmitting:
		return "submitting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// User-visible messages.
const (
	MsgMicrophone      = "Could not access microphone"
	MsgRecordingFailed = "Could not record audio"
	MsgRequired        = "All fields are required"
	MsgSubmitFailed    = "Failed to submit the form"
	MsgSubmitted       = "Form submitted successfully"
	MsgPlaybackFailed  = "Could not play the server's reply"
)

var (
	ErrIncomplete = errors.New("name, email and recording are required")
	ErrBusy       = errors.New("a submission is already in progress")
	ErrClosed     = errors.New("form closed")
)

// TransitionError reports an operation attempted from a state that does not
// allow it.
type TransitionError struct {
	Op    string
	State State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.State)
}

// canStart reports whether recording may begin from s.
func canStart(s State) bool {
	return s == StateAccessGranted || s == StateStopped
}
