package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vango-go/vai-phone/pkg/gateway/config"
	"github.com/vango-go/vai-phone/pkg/gateway/metrics"
	"github.com/vango-go/vai-phone/pkg/gateway/streamtoken"
)

func newTestServer(t *testing.T) (*Server, *metrics.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	m := metrics.NewMetrics("test")
	s := New(config.Config{
		Store:               config.StoreMemory,
		GeminiBackend:       config.GeminiBackendAPI,
		PublicURL:           "https://phone.example.com",
		TransportSampleRate: 16000,
	}, Dependencies{
		Signer:  streamtoken.NewSigner("", 0),
		Metrics: m,
		Logger:  logger,
	})
	return s, m
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"code":"not_found"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestServer_AnswerRouteReachable(t *testing.T) {
	s, m := newTestServer(t)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(method, "/webhooks/answer?to=212522000000&from=212612345678", nil)
		s.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%q", method, rr.Code, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), "wss://phone.example.com/voice/stream") {
			t.Fatalf("%s body=%q", method, rr.Body.String())
		}
	}

	got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/webhooks/answer", "2xx"))
	if got != 2 {
		t.Fatalf("requests_total{route=/webhooks/answer}=%v, want 2", got)
	}
}

func TestServer_EventRouteRejectsGet(t *testing.T) {
	s, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhooks/event", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want 405", rr.Code)
	}
}

func TestServer_MetricsRoute(t *testing.T) {
	s, m := newTestServer(t)
	m.RecordCallStart()

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "test_calls_active 1") {
		t.Fatalf("metrics body missing calls_active: %q", rr.Body.String())
	}
}

func TestServer_ReadyReportsDraining(t *testing.T) {
	s, _ := newTestServer(t)
	s.Tracker().SetDraining(true)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code == http.StatusOK {
		t.Fatalf("readyz ok while draining: %q", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"draining":true`) {
		t.Fatalf("body=%q", rr.Body.String())
	}
}
