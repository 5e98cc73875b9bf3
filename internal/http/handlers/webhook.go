package handlers

import (
	"io"
	"net/http"

	"github.com/fisioflow/calsync/pkg/logging"
)

// WebhookHandler accepts provider push notifications. Inbound sync is not
// implemented; the payload is logged and acknowledged so the provider does
// not retry.
type WebhookHandler struct {
	logger *logging.Logger
}

func NewWebhookHandler(logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{logger: logger}
}

// HandleNotification handles POST /webhooks/calendar.
func (h *WebhookHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		h.logger.Warn("read provider notification", "error", err)
	}
	h.logger.Info("provider notification ignored",
		"channel_id", r.Header.Get("X-Goog-Channel-ID"),
		"resource_state", r.Header.Get("X-Goog-Resource-State"),
		"bytes", len(body),
	)
	w.WriteHeader(http.StatusNoContent)
}
