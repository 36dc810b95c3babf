// Package console drives a form from a line-oriented terminal session.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/loqalabs/voiceform/internal/capture"
	"github.com/loqalabs/voiceform/internal/form"
)

// Form is the part of *form.Form the console drives.
type Form interface {
	SetName(name string)
	SetEmail(email string)
	View() form.View
	RequestAccess(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Submit(ctx context.Context) error
}

const helpText = `commands:
  name <text>    set the name field
  email <text>   set the email field
  access         request microphone access
  start          start recording
  stop           stop recording
  submit         send the form
  status         show the form
  help           show this help
  quit           exit`

// Console reads commands from in and writes results to out. It also serves
// as the form's Notifier, so it must be bound before Run.
type Console struct {
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	mu         sync.Mutex
	form       Form
	lastError  string
	lastNotice string
}

func New(in io.Reader, out io.Writer, logger *slog.Logger) *Console {
	return &Console{
		in:     in,
		out:    out,
		logger: logger.With(slog.String("component", "console")),
	}
}

// Bind attaches the form to drive.
func (c *Console) Bind(f Form) {
	c.mu.Lock()
	c.form = f
	c.mu.Unlock()
}

// Confirm shows a confirmation dialog line.
func (c *Console) Confirm(message string) {
	c.printf("[ok] %s\n", message)
}

// Run processes commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	c.mu.Lock()
	bound := c.form != nil
	c.mu.Unlock()
	if !bound {
		return errors.New("console has no form")
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.printf("voice form ready, type help for commands\n")
	for {
		c.printf("> ")
		select {
		case <-ctx.Done():
			c.printf("\n")
			return nil
		case err := <-readErr:
			c.printf("\n")
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		case line := <-lines:
			if quit := c.Execute(ctx, line); quit {
				return nil
			}
		}
	}
}

// Execute runs one command line and reports whether the session should end.
func (c *Console) Execute(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	c.mu.Lock()
	f := c.form
	c.mu.Unlock()

	var err error
	switch strings.ToLower(cmd) {
	case "":
		return false
	case "name":
		f.SetName(arg)
	case "email":
		f.SetEmail(arg)
	case "access":
		err = f.RequestAccess(ctx)
	case "start":
		err = f.Start(ctx)
	case "stop":
		err = f.Stop(ctx)
	case "submit":
		err = f.Submit(ctx)
	case "status":
		c.status(f.View())
		return false
	case "help", "?":
		c.printf("%s\n", helpText)
		return false
	case "quit", "exit":
		return true
	default:
		c.printf("unknown command %q, type help for commands\n", cmd)
		return false
	}

	c.render(f.View(), err)
	return false
}

// render prints messages that changed since the last command. An error the
// form did not turn into a message is printed directly.
func (c *Console) render(v form.View, err error) {
	c.mu.Lock()
	errChanged := v.Error != c.lastError
	noticeChanged := v.Notice != c.lastNotice
	c.lastError = v.Error
	c.lastNotice = v.Notice
	c.mu.Unlock()

	if v.Error != "" && (errChanged || reshown(err)) {
		c.printf("[error] %s\n", v.Error)
	} else if err != nil && !reshown(err) {
		c.printf("[error] %v\n", err)
	}
	if noticeChanged && v.Notice != "" {
		c.printf("[notice] %s\n", v.Notice)
	}
	if err != nil {
		c.logger.Debug("command failed", slog.String("error", err.Error()))
	}
}

// reshown reports errors the form always turns into its message.
func reshown(err error) bool {
	return errors.Is(err, form.ErrIncomplete) || errors.Is(err, capture.ErrAccessDenied)
}

func (c *Console) status(v form.View) {
	recording := "none"
	if v.HasRecording {
		recording = fmt.Sprintf("%d bytes, %s", v.RecordingBytes, v.RecordingDuration)
	}
	c.printf("state:     %s\nname:      %s\nemail:     %s\nrecording: %s\n", v.State, v.Name, v.Email, recording)
	if v.Error != "" {
		c.printf("error:     %s\n", v.Error)
	}
	if v.Notice != "" {
		c.printf("notice:    %s\n", v.Notice)
	}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}
