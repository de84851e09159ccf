package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.JobFinished("ok")
	m.ObserveUpstream("fetch", time.Second, nil)
	m.RequestOutcome("queued")
	m.SetQueueDepth(3)
	m.SetLiveJobs(1)
	if m.Registry() != nil {
		t.Fatalf("nil metrics should not expose a registry")
	}
}

func TestHandlerExposesRecordedSeries(t *testing.T) {
	m := New()
	m.JobFinished("ok")
	m.JobFinished("retry")
	m.ObserveUpstream("fetch", 200*time.Millisecond, errors.New("boom"))
	m.RequestOutcome("served")
	m.SetQueueDepth(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/-/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`workshop_cache_worker_jobs_total{result="ok"} 1`,
		`workshop_cache_worker_jobs_total{result="retry"} 1`,
		`workshop_cache_upstream_call_duration_seconds_count{call="fetch",result="error"} 1`,
		`workshop_cache_coordinator_requests_total{outcome="served"} 1`,
		`workshop_cache_worker_queue_depth 2`,
		`go_goroutines`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
