package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/lease-cli/tui"
)

func TestNewApp_DebugAndTraceWriteToStderr(t *testing.T) {
	clearEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1}]`))
	}))
	t.Cleanup(srv.Close)

	cfg, err := loadConfig(&flagValues{
		apiURL:  srv.URL + "/api",
		store:   storeMemory,
		retries: "0",
		debug:   true,
		trace:   true,
	})
	require.NoError(t, err)

	var stderr bytes.Buffer
	a, ctx, err := newApp(context.Background(), cfg, tui.NoopDisplayer{}, &stderr, "/companies/list")
	require.NoError(t, err)

	items, err := a.svc.Companies.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	require.NoError(t, a.Close())

	out := stderr.String()
	assert.Contains(t, out, "[state] logged_in=false")
	assert.Contains(t, out, "resources=1")
	assert.Contains(t, out, `"Name": "lease.http GET"`)
}

func TestNewApp_NoTraceByDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := loadConfig(&flagValues{store: storeMemory})
	require.NoError(t, err)

	var stderr bytes.Buffer
	a, _, err := newApp(context.Background(), cfg, tui.NoopDisplayer{}, &stderr, "/")
	require.NoError(t, err)
	assert.Nil(t, a.shutdownTrace)
	require.NoError(t, a.Close())
	assert.Empty(t, stderr.String())
}

func TestDebugRequested(t *testing.T) {
	clearEnv(t)
	assert.False(t, debugRequested([]string{"companies", "list"}))
	assert.True(t, debugRequested([]string{"--debug", "companies", "list"}))
	assert.True(t, debugRequested([]string{"companies", "list", "--trace"}))

	t.Setenv("TRACE", "1")
	assert.True(t, debugRequested(nil))
}
