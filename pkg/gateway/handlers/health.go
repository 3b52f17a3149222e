package handlers

import (
	"net/http"

	"github.com/vango-go/vai-phone/pkg/gateway/calltracker"
	"github.com/vango-go/vai-phone/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config  config.Config
	Tracker *calltracker.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK          bool     `json:"ok"`
		Draining    bool     `json:"draining"`
		ActiveCalls int      `json:"active_calls"`
		Store       string   `json:"store"`
		Backend     string   `json:"model_backend"`
		Issues      []string `json:"issues,omitempty"`
	}

	issues := h.Config.Issues()
	draining := false
	active := 0
	if h.Tracker != nil {
		draining = h.Tracker.IsDraining()
		active = h.Tracker.Count()
	}

	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case len(issues) > 0:
		status = http.StatusInternalServerError
	case draining:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, readyResp{
		OK:          ok,
		Draining:    draining,
		ActiveCalls: active,
		Store:       string(h.Config.Store),
		Backend:     string(h.Config.GeminiBackend),
		Issues:      issues,
	})
}
