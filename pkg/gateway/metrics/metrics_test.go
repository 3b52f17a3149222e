package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CallLifecycle(t *testing.T) {
	m := NewMetrics("")
	m.RecordCallStart()
	m.RecordCallStart()
	m.RecordCallEnd("completed", 3*time.Second)

	if got := testutil.ToFloat64(m.CallsActive); got != 1 {
		t.Fatalf("calls_active=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("completed")); got != 1 {
		t.Fatalf("calls_total{completed}=%v, want 1", got)
	}
}

func TestMetrics_ToolAndFailures(t *testing.T) {
	m := NewMetrics("test")
	m.RecordToolInvocation("create_order", "success")
	m.RecordPersistenceFailure("create_order")
	m.RecordNotifyFailure()
	m.RecordDroppedFrames(DirectionOutbound, 4)
	m.RecordDroppedFrames(DirectionOutbound, 0)

	if got := testutil.ToFloat64(m.PersistenceFailuresTotal.WithLabelValues("create_order")); got != 1 {
		t.Fatalf("persistence_failures_total=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DroppedFramesTotal.WithLabelValues(DirectionOutbound)); got != 4 {
		t.Fatalf("dropped=%v, want 4", got)
	}
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordCallStart()
	m.RecordCallEnd("failed", time.Second)
	m.RecordToolInvocation("x", "y")
	m.RecordRequest("/healthz", 200)
}

func TestMetrics_HandlerExposesNamespace(t *testing.T) {
	m := NewMetrics("vai_phone")
	m.RecordRequest("/webhooks/answer", 200)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `vai_phone_http_requests_total{route="/webhooks/answer",status="2xx"} 1`) {
		t.Fatalf("metrics body missing request counter:\n%s", body)
	}
}
