package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler(w, req)
	return w.Body.String()
}

func TestMetrics_RecordRequest(t *testing.T) {
	m := New()

	m.RecordRequest("GET", "/api/v1/queue", 200, 100*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/queue", 200, 150*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/queue", 500, 50*time.Millisecond)

	body := scrape(t, m)

	if !strings.Contains(body, "svd_http_requests_total") {
		t.Error("expected svd_http_requests_total metric")
	}
	if !strings.Contains(body, "svd_http_request_duration_seconds") {
		t.Error("expected svd_http_request_duration_seconds metric")
	}
	if !strings.Contains(body, `status_class="5xx"`) {
		t.Error("expected 5xx error counter")
	}
}

func TestMetrics_QueueDepth(t *testing.T) {
	m := New()

	m.SetQueueDepth(7, 2)

	body := scrape(t, m)

	if !strings.Contains(body, "svd_queue_pending 7") {
		t.Errorf("expected svd_queue_pending 7, got:\n%s", body)
	}
	if !strings.Contains(body, "svd_queue_running 2") {
		t.Errorf("expected svd_queue_running 2, got:\n%s", body)
	}
}

func TestMetrics_JobOutcomes(t *testing.T) {
	m := New()

	m.RecordJobOutcome("completed")
	m.RecordJobOutcome("completed")
	m.RecordJobOutcome("failed")
	m.AddSegmentsDropped(3)

	body := scrape(t, m)

	if !strings.Contains(body, `svd_counter{name="jobs_completed"} 2`) {
		t.Errorf("expected jobs_completed counter = 2, got:\n%s", body)
	}
	if !strings.Contains(body, `svd_counter{name="jobs_failed"} 1`) {
		t.Errorf("expected jobs_failed counter = 1, got:\n%s", body)
	}
	if !strings.Contains(body, `svd_counter{name="segments_dropped"} 3`) {
		t.Errorf("expected segments_dropped counter = 3, got:\n%s", body)
	}
}

func TestMetrics_EndpointNormalization(t *testing.T) {
	m := New()

	m.RecordRequest("GET", "/api/v1/jobs/123e4567-e89b-12d3-a456-426614174000", 200, 10*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/jobs/550e8400-e29b-41d4-a716-446655440000", 200, 10*time.Millisecond)

	body := scrape(t, m)

	if !strings.Contains(body, "/api/v1/jobs/{id}") {
		t.Errorf("expected normalized endpoint /api/v1/jobs/{id}, got:\n%s", body)
	}
}

func TestMiddleware(t *testing.T) {
	m := New()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrapped := Middleware(m)(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/test", nil)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	body := scrape(t, m)
	if !strings.Contains(body, "/api/v1/test") {
		t.Errorf("expected endpoint /api/v1/test in metrics, got:\n%s", body)
	}
}

func TestMetrics_CustomGauge(t *testing.T) {
	m := New()

	m.SetGauge("active_processes", 3.0)

	body := scrape(t, m)

	if !strings.Contains(body, `svd_gauge{name="active_processes"}`) {
		t.Errorf("expected active_processes gauge, got:\n%s", body)
	}
}
