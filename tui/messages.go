package tui

import (
	"time"
)

// MsgBanner signals that a command started.
type MsgBanner struct{ Command string }

// MsgWorking signals that a backend call is in progress.
type MsgWorking struct{ Label string }

// MsgRetrying signals that a transient failure will be retried after Delay.
type MsgRetrying struct {
	Attempt int
	Delay   time.Duration
	Err     error
}

// MsgTokenRefreshed signals that the access token was refreshed after a 401.
type MsgTokenRefreshed struct{}

// MsgRefreshFailed signals that the refresh token was rejected.
type MsgRefreshFailed struct{ Err error }

// MsgSessionExpired signals a forced logout.
type MsgSessionExpired struct{ Message string }

// MsgLoginOK signals a successful sign-in.
type MsgLoginOK struct {
	Name string
	Role string
}

// MsgLogoutOK signals a voluntary sign-out.
type MsgLogoutOK struct{}

// MsgLoaded signals that a list call returned Count rows.
type MsgLoaded struct {
	Resource string
	Count    int
}

// MsgSaved signals that a file was written.
type MsgSaved struct{ Path string }

// MsgSuccess signals successful completion of the command.
type MsgSuccess struct{ Text string }

// MsgFatal signals a fatal error that terminates the command.
type MsgFatal struct{ Err error }
