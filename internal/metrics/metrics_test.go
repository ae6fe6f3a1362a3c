package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(WithRegistry(reg))

	c.ObserveRequest("GET", 200, 10*time.Millisecond)
	c.ObserveRequest("GET", 200, 20*time.Millisecond)
	c.ObserveRequest("POST", 503, time.Millisecond)
	c.Retry()
	c.Refresh(true)
	c.Refresh(false)
	c.ForcedLogout(true)
	c.ForcedLogout(false)
	c.ForcedLogout(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("POST", "503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.refreshes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.refreshes.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.forcedLogouts))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.logoutsSkipped))
}

func TestCollector_Dump(t *testing.T) {
	c := New(WithNamespace("test"))
	c.Retry()

	out, err := c.Dump()
	require.NoError(t, err)
	assert.Contains(t, out, "test_client_retries_total 1")
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveRequest("GET", 200, time.Second)
	c.Retry()
	c.Refresh(true)
	c.ForcedLogout(true)

	out, err := c.Dump()
	require.NoError(t, err)
	assert.Empty(t, out)
}
