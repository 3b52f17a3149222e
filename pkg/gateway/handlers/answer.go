package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/vango-go/vai-phone/pkg/gateway/streamtoken"
)

const maxWebhookBody = 1 << 20

// AnswerHandler answers the telephony provider's inbound-call webhook with
// an NCCO that connects the call audio to the stream endpoint.
type AnswerHandler struct {
	// PublicURL is the externally reachable base URL. Empty derives it from
	// the request.
	PublicURL  string
	SampleRate int
	Signer     *streamtoken.Signer
	Logger     *slog.Logger
}

type nccoAction struct {
	Action   string         `json:"action"`
	From     string         `json:"from,omitempty"`
	Endpoint []nccoEndpoint `json:"endpoint"`
}

type nccoEndpoint struct {
	Type        string            `json:"type"`
	URI         string            `json:"uri"`
	ContentType string            `json:"content-type"`
	Headers     map[string]string `json:"headers,omitempty"`
}

type answerParams struct {
	To   string `json:"to"`
	From string `json:"from"`
	UUID string `json:"uuid"`
}

func (h AnswerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := parseAnswerParams(r)
	if p.To == "" {
		writeError(w, r, http.StatusBadRequest, "missing_destination", "to is required")
		return
	}

	base := h.streamBase(r)
	endpoint := nccoEndpoint{
		Type:        "websocket",
		ContentType: "audio/l16;rate=" + strconv.Itoa(h.sampleRate()),
	}
	if h.Signer.Enabled() {
		token, err := h.Signer.Sign(p.To, p.From, p.UUID)
		if err != nil {
			logger.Error("stream token signing failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, "internal_error", "could not sign stream token")
			return
		}
		endpoint.URI = base + "/voice/stream?" + url.Values{"token": {token}}.Encode()
	} else {
		q := url.Values{"to_number": {p.To}, "caller_number": {p.From}}
		endpoint.URI = base + "/voice/stream?" + q.Encode()
		endpoint.Headers = map[string]string{"to-number": p.To, "caller-number": p.From}
	}

	logger.Info("inbound call answered", "to", p.To, "from", p.From, "uuid", p.UUID, "signed", h.Signer.Enabled())
	writeJSON(w, http.StatusOK, []nccoAction{{
		Action:   "connect",
		From:     p.To,
		Endpoint: []nccoEndpoint{endpoint},
	}})
}

func (h AnswerHandler) sampleRate() int {
	if h.SampleRate > 0 {
		return h.SampleRate
	}
	return 16000
}

// streamBase returns the ws:// or wss:// origin of the stream endpoint.
func (h AnswerHandler) streamBase(r *http.Request) string {
	base := strings.TrimRight(h.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
		return base
	default:
		return "wss://" + base
	}
}

// parseAnswerParams reads the call parties from a JSON body and falls back
// to query parameters, which is how GET answer webhooks carry them.
func parseAnswerParams(r *http.Request) answerParams {
	var p answerParams
	if r.Body != nil && r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err == nil && len(body) > 0 {
			_ = json.Unmarshal(body, &p)
		}
	}
	q := r.URL.Query()
	if p.To == "" {
		p.To = q.Get("to")
	}
	if p.From == "" {
		p.From = q.Get("from")
	}
	if p.UUID == "" {
		p.UUID = q.Get("uuid")
	}
	p.To = strings.TrimSpace(p.To)
	p.From = strings.TrimSpace(p.From)
	return p
}
