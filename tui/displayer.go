package tui

import (
	"errors"
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/lease-cli/internal/apierr"
)

// Displayer abstracts all user-facing status output of a command. Command
// results are written to stdout separately.
type Displayer interface {
	Banner(command string)
	Working(label string)
	Retrying(attempt int, delay time.Duration, err error)
	TokenRefreshed()
	RefreshFailed(err error)
	SessionExpired(message string)
	LoginOK(name, role string)
	LogoutOK()
	Loaded(resource string, count int)
	Saved(path string)
	Success(text string)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner(command string) {
	fmt.Fprintf(p.w, "=== lease %s ===\n", command)
}

func (p *PlainDisplayer) Working(label string) {
	fmt.Fprintf(p.w, "%s...\n", label)
}

func (p *PlainDisplayer) Retrying(attempt int, delay time.Duration, err error) {
	fmt.Fprintf(p.w, "Request failed (%v), retry %d in %s\n", err, attempt+1, formatDuration(delay))
}

func (p *PlainDisplayer) TokenRefreshed() {
	fmt.Fprintln(p.w, "Access token refreshed")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) SessionExpired(message string) {
	fmt.Fprintf(p.w, "Signed out: %s\n", message)
}

func (p *PlainDisplayer) LoginOK(name, role string) {
	fmt.Fprintf(p.w, "Signed in as %s\n", userLabel(name, role))
}

func (p *PlainDisplayer) LogoutOK() {
	fmt.Fprintln(p.w, "Signed out")
}

func (p *PlainDisplayer) Loaded(resource string, count int) {
	fmt.Fprintf(p.w, "Loaded %d %s\n", count, resource)
}

func (p *PlainDisplayer) Saved(path string) {
	fmt.Fprintf(p.w, "Saved %s\n", path)
}

func (p *PlainDisplayer) Success(text string) {
	fmt.Fprintln(p.w, text)
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %s\n", describeError(err))
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner(_ string)                          {}
func (NoopDisplayer) Working(_ string)                         {}
func (NoopDisplayer) Retrying(_ int, _ time.Duration, _ error) {}
func (NoopDisplayer) TokenRefreshed()                          {}
func (NoopDisplayer) RefreshFailed(_ error)                    {}
func (NoopDisplayer) SessionExpired(_ string)                  {}
func (NoopDisplayer) LoginOK(_, _ string)                      {}
func (NoopDisplayer) LogoutOK()                                {}
func (NoopDisplayer) Loaded(_ string, _ int)                   {}
func (NoopDisplayer) Saved(_ string)                           {}
func (NoopDisplayer) Success(_ string)                         {}
func (NoopDisplayer) Fatal(_ error)                            {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner(command string) {
	t.p.Send(MsgBanner{Command: command})
}

func (t *ProgramDisplayer) Working(label string) {
	t.p.Send(MsgWorking{Label: label})
}

func (t *ProgramDisplayer) Retrying(attempt int, delay time.Duration, err error) {
	t.p.Send(MsgRetrying{Attempt: attempt, Delay: delay, Err: err})
}

func (t *ProgramDisplayer) TokenRefreshed() {
	t.p.Send(MsgTokenRefreshed{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) SessionExpired(message string) {
	t.p.Send(MsgSessionExpired{Message: message})
}

func (t *ProgramDisplayer) LoginOK(name, role string) {
	t.p.Send(MsgLoginOK{Name: name, Role: role})
}

func (t *ProgramDisplayer) LogoutOK() {
	t.p.Send(MsgLogoutOK{})
}

func (t *ProgramDisplayer) Loaded(resource string, count int) {
	t.p.Send(MsgLoaded{Resource: resource, Count: count})
}

func (t *ProgramDisplayer) Saved(path string) {
	t.p.Send(MsgSaved{Path: path})
}

func (t *ProgramDisplayer) Success(text string) {
	t.p.Send(MsgSuccess{Text: text})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}

// describeError renders API errors with their kind, e.g.
// "[NOT_FOUND] The requested resource was not found.".
func describeError(err error) string {
	if err == nil {
		return ""
	}
	var e *apierr.Error
	if errors.As(err, &e) {
		return fmt.Sprintf("[%s] %s", e.Kind, err.Error())
	}
	return err.Error()
}

func userLabel(name, role string) string {
	if name == "" {
		name = "unknown user"
	}
	if role == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, role)
}
