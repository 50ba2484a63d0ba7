package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Attempt()
	m.Retry()
	m.Failure("download")
	m.Cancelled()
	m.Processed(10, time.Second)
}

func TestCounters(t *testing.T) {
	m := New(nil)
	m.Attempt()
	m.Attempt()
	m.Retry()
	m.Failure("processing")
	m.Processed(512, 20*time.Millisecond)

	if got := testutil.ToFloat64(m.attempts); got != 2 {
		t.Errorf("attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.retries); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("processing")); got != 1 {
		t.Errorf("processing failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.bytes); got != 512 {
		t.Errorf("bytes = %v, want 512", got)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Attempt()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "chunkfetch_download_attempts_total 1") {
		t.Errorf("metrics output missing attempts counter:\n%s", rec.Body.String())
	}
}
