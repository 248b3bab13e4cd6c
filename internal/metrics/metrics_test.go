package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ClaimTransferred()
		c.ClaimFailed("unknown")
		c.TaskStarted()
		c.TaskFinished()
		c.ModeChanged("state", "paused")
		c.ObserveApply(time.Second)
		c.DiagnosticRecorded("error")
	})
	assert.Nil(t, c.Registry())
}

func TestCollector_Counts(t *testing.T) {
	c := New()
	c.ClaimTransferred()
	c.ClaimTransferred()
	c.ClaimFailed("child")
	c.TaskStarted()
	c.TaskStarted()
	c.TaskFinished()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.claimTransfers))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.claimFailures.WithLabelValues("child")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.poolTasks))
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.ModeChanged("sequence", "paused")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `labrun_program_mode_transitions_total{mode="paused",program="sequence"} 1`)
}
