package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-phone/pkg/gateway/call"
	"github.com/vango-go/vai-phone/pkg/gateway/calltracker"
	"github.com/vango-go/vai-phone/pkg/gateway/config"
	"github.com/vango-go/vai-phone/pkg/gateway/streamtoken"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeNCCO(t *testing.T, body string) nccoEndpoint {
	t.Helper()
	var actions []nccoAction
	if err := json.Unmarshal([]byte(body), &actions); err != nil {
		t.Fatalf("unmarshal ncco: %v body=%q", err, body)
	}
	if len(actions) != 1 || actions[0].Action != "connect" || len(actions[0].Endpoint) != 1 {
		t.Fatalf("ncco=%+v", actions)
	}
	return actions[0].Endpoint[0]
}

func TestAnswerHandler_UnsignedCarriesParties(t *testing.T) {
	h := AnswerHandler{PublicURL: "https://phone.example.com/", SampleRate: 16000, Logger: testLogger()}
	req := httptest.NewRequest(http.MethodGet, "/webhooks/answer?to=212522000000&from=212612345678&uuid=abc", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	ep := decodeNCCO(t, rr.Body.String())
	if ep.Type != "websocket" || ep.ContentType != "audio/l16;rate=16000" {
		t.Fatalf("endpoint=%+v", ep)
	}
	u, err := url.Parse(ep.URI)
	if err != nil {
		t.Fatalf("parse uri: %v", err)
	}
	if u.Scheme != "wss" || u.Host != "phone.example.com" || u.Path != "/voice/stream" {
		t.Fatalf("uri=%q", ep.URI)
	}
	if got := u.Query().Get("to_number"); got != "212522000000" {
		t.Fatalf("to_number=%q, want 212522000000", got)
	}
	if got := u.Query().Get("caller_number"); got != "212612345678" {
		t.Fatalf("caller_number=%q, want 212612345678", got)
	}
	if ep.Headers["to-number"] != "212522000000" || ep.Headers["caller-number"] != "212612345678" {
		t.Fatalf("headers=%v", ep.Headers)
	}
}

func TestAnswerHandler_SignedTokenFromJSONBody(t *testing.T) {
	signer := streamtoken.NewSigner("secret", time.Minute)
	h := AnswerHandler{SampleRate: 8000, Signer: signer, Logger: testLogger()}
	body := strings.NewReader(`{"to":"212522000000","from":"212612345678","uuid":"call-9"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/answer", body)
	req.Host = "gw.internal:8080"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	ep := decodeNCCO(t, rr.Body.String())
	if ep.ContentType != "audio/l16;rate=8000" {
		t.Fatalf("content-type=%q", ep.ContentType)
	}
	if len(ep.Headers) != 0 {
		t.Fatalf("signed answer leaked headers: %v", ep.Headers)
	}
	u, _ := url.Parse(ep.URI)
	if u.Scheme != "ws" || u.Host != "gw.internal:8080" {
		t.Fatalf("uri=%q", ep.URI)
	}
	claims, err := signer.Verify(u.Query().Get("token"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.To != "212522000000" || claims.From != "212612345678" || claims.ID != "call-9" {
		t.Fatalf("claims=%+v", claims)
	}
}

func TestAnswerHandler_ForwardedProto(t *testing.T) {
	h := AnswerHandler{Logger: testLogger()}
	req := httptest.NewRequest(http.MethodGet, "/webhooks/answer?to=1&from=2", nil)
	req.Host = "phone.example.com"
	req.Header.Set("X-Forwarded-Proto", "https")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	ep := decodeNCCO(t, rr.Body.String())
	if !strings.HasPrefix(ep.URI, "wss://phone.example.com/voice/stream?") {
		t.Fatalf("uri=%q", ep.URI)
	}
}

func TestAnswerHandler_MissingDestination(t *testing.T) {
	h := AnswerHandler{Logger: testLogger()}
	req := httptest.NewRequest(http.MethodGet, "/webhooks/answer?from=2", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rr.Code)
	}
}

func TestEventHandler_AlwaysOK(t *testing.T) {
	h := EventHandler{Logger: testLogger()}
	for _, body := range []string{`{"status":"completed","uuid":"u1"}`, `not json`, ``} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/event", strings.NewReader(body))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("body=%q status=%d, want 200", body, rr.Code)
		}
		if got := strings.TrimSpace(rr.Body.String()); got != `{"status":"ok"}` {
			t.Fatalf("response=%q", got)
		}
	}
}

type fakeRunner struct {
	mu     sync.Mutex
	params []call.Params
}

func (f *fakeRunner) Run(_ context.Context, ws call.Socket, p call.Params) error {
	f.mu.Lock()
	f.params = append(f.params, p)
	f.mu.Unlock()
	_ = ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
	return ws.Close()
}

func (f *fakeRunner) snapshot() []call.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call.Params(nil), f.params...)
}

func wsURL(srv *httptest.Server, rawQuery string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/voice/stream?" + rawQuery
}

func TestStreamHandler_UnsignedQueryParams(t *testing.T) {
	runner := &fakeRunner{}
	srv := httptest.NewServer(StreamHandler{Calls: runner, Logger: testLogger()})
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "to_number=212522000000&caller_number=212612345678"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.BinaryMessage || len(data) != 3 {
		t.Fatalf("message type=%d len=%d", mt, len(data))
	}

	params := runner.snapshot()
	if len(params) != 1 || params[0].To != "212522000000" || params[0].From != "212612345678" {
		t.Fatalf("params=%+v", params)
	}
}

func TestStreamHandler_HeadersFallback(t *testing.T) {
	runner := &fakeRunner{}
	srv := httptest.NewServer(StreamHandler{Calls: runner, Logger: testLogger()})
	defer srv.Close()

	header := http.Header{}
	header.Set("to-number", "212522000000")
	header.Set("caller-number", "212612345678")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for len(runner.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	params := runner.snapshot()
	if len(params) != 1 || params[0].To != "212522000000" {
		t.Fatalf("params=%+v", params)
	}
}

func TestStreamHandler_SignedToken(t *testing.T) {
	signer := streamtoken.NewSigner("secret", time.Minute)
	runner := &fakeRunner{}
	srv := httptest.NewServer(StreamHandler{Calls: runner, Signer: signer, Logger: testLogger()})
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "to_number=212522000000"), nil)
	if err == nil {
		t.Fatalf("unsigned dial succeeded with signing enabled")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp=%v, want 401", resp)
	}

	token, err := signer.Sign("212522000000", "212612345678", "call-3")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, url.Values{"token": {token}}.Encode()), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, _ = conn.ReadMessage()
	conn.Close()

	params := runner.snapshot()
	if len(params) != 1 || params[0].ID != "call-3" || params[0].From != "212612345678" {
		t.Fatalf("params=%+v", params)
	}
}

func TestStreamHandler_RejectsWhileDraining(t *testing.T) {
	tracker := calltracker.NewTracker(0)
	tracker.SetDraining(true)
	srv := httptest.NewServer(StreamHandler{Calls: &fakeRunner{}, Tracker: tracker, Logger: testLogger()})
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "to_number=1"), nil)
	if err == nil {
		t.Fatalf("dial succeeded while draining")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("resp=%v, want 503", resp)
	}
}

func TestStreamHandler_MissingDestination(t *testing.T) {
	srv := httptest.NewServer(StreamHandler{Calls: &fakeRunner{}, Logger: testLogger()})
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	if err == nil {
		t.Fatalf("dial succeeded without destination")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("resp=%v, want 400", resp)
	}
}

func readyConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("VAI_PHONE_STORE", "memory")
	t.Setenv("VAI_PHONE_GEMINI_BACKEND", "gemini")
	t.Setenv("VAI_PHONE_GEMINI_API_KEY", "test-key")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	return cfg
}

func TestReadyHandler(t *testing.T) {
	cfg := readyConfig(t)
	tracker := calltracker.NewTracker(0)
	unregister, err := tracker.Register("c1", calltracker.Handle{Cancel: func() {}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer unregister()

	broken := cfg
	broken.GeminiAPIKey = ""

	tests := []struct {
		name     string
		cfg      config.Config
		draining bool
		want     int
	}{
		{name: "ready", cfg: cfg, want: http.StatusOK},
		{name: "draining", cfg: cfg, draining: true, want: http.StatusServiceUnavailable},
		{name: "config issue", cfg: broken, want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tracker.SetDraining(tc.draining)
			rr := httptest.NewRecorder()
			ReadyHandler{Config: tc.cfg, Tracker: tracker}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.want {
				t.Fatalf("status=%d, want %d body=%q", rr.Code, tc.want, rr.Body.String())
			}
			var resp map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got, _ := resp["active_calls"].(float64); got != 1 {
				t.Fatalf("active_calls=%v, want 1", resp["active_calls"])
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}
