package apiclient

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/go-authgate/lease-cli/internal/retry"
)

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(s.Attributes()))
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracing_OneSpanPerAttempt(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"token": "access-2"})
	})
	mux.HandleFunc("/api/companies", func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusUnauthorized)
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			writeJSON(w, http.StatusOK, []any{})
		}
	})
	h := newHarness(t, mux, func(c *Config) { c.Tracer = tp.Tracer("lease-test") })
	h.login(t, "access-1", "refresh-1")

	require.NoError(t, h.client.Get(context.Background(), "/companies", nil))

	spans := sr.Ended()
	require.Len(t, spans, 3)

	wantStatus := []int64{401, 503, 200}
	wantReplay := []bool{false, true, true}
	wantCode := []codes.Code{codes.Error, codes.Error, codes.Unset}
	var requestID string
	for i, s := range spans {
		attrs := spanAttrs(s)
		assert.Equal(t, "lease.http GET", s.Name())
		assert.Equal(t, "GET", attrs["http.method"].AsString())
		assert.Equal(t, "/companies", attrs["http.route"].AsString())
		assert.Equal(t, wantStatus[i], attrs["http.status_code"].AsInt64(), "span %d", i)
		assert.Equal(t, wantReplay[i], attrs["lease.replay"].AsBool(), "span %d", i)
		assert.Equal(t, wantCode[i], s.Status().Code, "span %d", i)

		id := attrs["lease.request_id"].AsString()
		require.NotEmpty(t, id)
		if i == 0 {
			requestID = id
		}
		assert.Equal(t, requestID, id, "attempts share the request id")
	}
}

func TestTracing_TransportErrorMarksSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h := newHarness(t, http.NotFoundHandler(), func(c *Config) {
		c.Tracer = tp.Tracer("lease-test")
		c.Retries = retry.NoRetries
	})
	h.srv.Close()

	require.Error(t, h.client.Get(context.Background(), "/users", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	_, hasStatus := spanAttrs(spans[0])["http.status_code"]
	assert.False(t, hasStatus)
}
