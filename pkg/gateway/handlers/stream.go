package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-phone/pkg/gateway/call"
	"github.com/vango-go/vai-phone/pkg/gateway/calltracker"
	"github.com/vango-go/vai-phone/pkg/gateway/streamtoken"
)

const maxStreamMessageBytes = 1 << 16

// CallRunner runs one call over an upgraded socket; *call.Supervisor
// satisfies it.
type CallRunner interface {
	Run(ctx context.Context, ws call.Socket, p call.Params) error
}

// StreamHandler upgrades the telephony audio websocket and hands it to the
// call supervisor.
type StreamHandler struct {
	Calls   CallRunner
	Signer  *streamtoken.Signer
	Tracker *calltracker.Tracker
	Logger  *slog.Logger
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if h.Tracker != nil && h.Tracker.IsDraining() {
		writeError(w, r, http.StatusServiceUnavailable, "draining", "server is draining")
		return
	}

	params, err := h.callParams(r)
	if err != nil {
		logger.Warn("stream rejected", "error", err)
		if errors.Is(err, streamtoken.ErrInvalidToken) {
			writeError(w, r, http.StatusUnauthorized, "invalid_token", "invalid stream token")
			return
		}
		writeError(w, r, http.StatusBadRequest, "missing_destination", err.Error())
		return
	}

	upgrader := websocket.Upgrader{
		// The peer is the telephony provider, not a browser.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxStreamMessageBytes)

	if err := h.Calls.Run(r.Context(), conn, params); err != nil {
		logger.Error("call failed", "call_id", params.ID, "error", err)
	}
}

func (h StreamHandler) callParams(r *http.Request) (call.Params, error) {
	if h.Signer.Enabled() {
		claims, err := h.Signer.Verify(r.URL.Query().Get("token"))
		if err != nil {
			return call.Params{}, err
		}
		return call.Params{ID: claims.ID, To: claims.To, From: claims.From}, nil
	}

	q := r.URL.Query()
	p := call.Params{
		To:   firstNonEmpty(q.Get("to_number"), r.Header.Get("to-number")),
		From: firstNonEmpty(q.Get("caller_number"), r.Header.Get("caller-number")),
	}
	if p.To == "" {
		return call.Params{}, errors.New("to_number is required")
	}
	return p, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
