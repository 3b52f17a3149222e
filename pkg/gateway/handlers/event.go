package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// EventHandler acknowledges call status events from the telephony provider.
type EventHandler struct {
	Logger *slog.Logger
}

func (h EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var ev map[string]any
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err == nil && len(body) > 0 {
		if jerr := json.Unmarshal(body, &ev); jerr != nil {
			logger.Warn("telephony event not json", "error", jerr)
		}
	}
	logger.Info("telephony event",
		"status", ev["status"],
		"uuid", ev["uuid"],
		"conversation_uuid", ev["conversation_uuid"],
		"direction", ev["direction"],
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
