// Package apierr defines the normalized error envelope returned by the API
// client. Raw transport and server failures are classified here and nowhere
// else; callers match on Kind or on the sentinel errors with errors.Is.
package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
)

// Kind is the error class surfaced to callers.
type Kind string

const (
	KindNetwork      Kind = "NETWORK_ERROR"
	KindTimeout      Kind = "TIMEOUT_ERROR"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindValidation   Kind = "VALIDATION_ERROR"
	KindServer       Kind = "SERVER_ERROR"
)

// Default user-facing messages per kind, used when the server supplies none.
var messages = map[Kind]string{
	KindNetwork:      "Network error. Please check your connection.",
	KindTimeout:      "Request timed out. Please try again.",
	KindUnauthorized: "Your session is not authorized. Please sign in.",
	KindForbidden:    "You do not have permission to perform this action.",
	KindNotFound:     "The requested resource was not found.",
	KindValidation:   "The submitted data is invalid.",
	KindServer:       "Server error. Please try again later.",
}

// Sentinel errors, one per kind, for errors.Is matching.
var (
	ErrNetwork      = errors.New(string(KindNetwork))
	ErrTimeout      = errors.New(string(KindTimeout))
	ErrUnauthorized = errors.New(string(KindUnauthorized))
	ErrForbidden    = errors.New(string(KindForbidden))
	ErrNotFound     = errors.New(string(KindNotFound))
	ErrValidation   = errors.New(string(KindValidation))
	ErrServer       = errors.New(string(KindServer))
)

var sentinels = map[Kind]error{
	KindNetwork:      ErrNetwork,
	KindTimeout:      ErrTimeout,
	KindUnauthorized: ErrUnauthorized,
	KindForbidden:    ErrForbidden,
	KindNotFound:     ErrNotFound,
	KindValidation:   ErrValidation,
	KindServer:       ErrServer,
}

// Message returns the default message for k.
func Message(k Kind) string {
	if m, ok := messages[k]; ok {
		return m
	}
	return messages[KindServer]
}

// Error is the normalized envelope for every failed call.
type Error struct {
	Kind       Kind
	Message    string
	Status     int    // 0 when no response was received
	StatusText string // empty when no response was received
	Body       []byte

	// Response is the raw response, if any. Its body has already been
	// drained into Body.
	Response *http.Response

	cause error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the transport error, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// FromResponse classifies a non-2xx response. body is the drained response
// body.
func FromResponse(resp *http.Response, body []byte) *Error {
	kind := kindForStatus(resp.StatusCode)
	msg := serverMessage(body)
	if msg == "" {
		msg = Message(kind)
	}
	return &Error{
		Kind:       kind,
		Message:    msg,
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Body:       body,
		Response:   resp,
	}
}

// FromTransport classifies an error returned before any response arrived.
func FromTransport(err error) *Error {
	kind := KindNetwork
	if isTimeout(err) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Message: Message(kind), cause: err}
}

// As extracts the envelope from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status
	}
	return 0
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnprocessableEntity:
		return KindValidation
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindValidation
	default:
		return KindServer
	}
}

// serverMessage picks data.message, then data.error, when they are strings.
func serverMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Message any `json:"message"`
		Error   any `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, v := range []any{payload.Message, payload.Error} {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
