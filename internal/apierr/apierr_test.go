package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromResponse(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind Kind
		wantMsg  string
	}{
		{"server message wins", 400, `{"message":"Company name is required"}`, KindValidation, "Company name is required"},
		{"server error field", 500, `{"error":"database unavailable"}`, KindServer, "database unavailable"},
		{"message before error", 422, `{"message":"first","error":"second"}`, KindValidation, "first"},
		{"non-string message ignored", 422, `{"message":{"name":["required"]}}`, KindValidation, Message(KindValidation)},
		{"401", 401, ``, KindUnauthorized, Message(KindUnauthorized)},
		{"403", 403, `not json`, KindForbidden, Message(KindForbidden)},
		{"404", 404, `{}`, KindNotFound, Message(KindNotFound)},
		{"422 without message", 422, `{"errors":{}}`, KindValidation, Message(KindValidation)},
		{"503", 503, ``, KindServer, Message(KindServer)},
		{"409 falls into validation", 409, ``, KindValidation, Message(KindValidation)},
		{"3xx is server error", 302, ``, KindServer, Message(KindServer)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status}
			e := FromResponse(resp, []byte(tt.body))

			assert.Equal(t, tt.wantKind, e.Kind)
			assert.Equal(t, tt.wantMsg, e.Message)
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, http.StatusText(tt.status), e.StatusText)
			assert.Same(t, resp, e.Response)
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestFromTransport(t *testing.T) {
	refused := &url.Error{Op: "Get", URL: "http://127.0.0.1:1", Err: errors.New("connection refused")}
	e := FromTransport(refused)
	assert.Equal(t, KindNetwork, e.Kind)
	assert.Equal(t, 0, e.Status)
	assert.ErrorIs(t, e, refused)

	e = FromTransport(&url.Error{Op: "Get", URL: "http://example", Err: timeoutErr{}})
	assert.Equal(t, KindTimeout, e.Kind)
	assert.Equal(t, Message(KindTimeout), e.Message)

	e = FromTransport(fmt.Errorf("send: %w", context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, e.Kind)
}

func TestSentinels(t *testing.T) {
	e := FromResponse(&http.Response{StatusCode: 403}, nil)
	wrapped := fmt.Errorf("load companies: %w", e)

	assert.ErrorIs(t, wrapped, ErrForbidden)
	assert.NotErrorIs(t, wrapped, ErrUnauthorized)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindForbidden, got.Kind)
	assert.Equal(t, 403, StatusOf(wrapped))
	assert.Equal(t, 0, StatusOf(errors.New("plain")))
}
