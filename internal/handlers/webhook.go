package handlers

import (
	"net/http"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
	"github.com/AnshRaj112/chatrelay-backend/internal/services"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
)

// WebhookResponse is returned by both webhook routes on success.
type WebhookResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    *models.Message `json:"data"`
}

// WebhookHandler receives upstream webhook deliveries.
type WebhookHandler struct {
	service      *services.IngestionService
	logger       *logger.Logger
	maxBodyBytes int64
}

func NewWebhookHandler(svc *services.IngestionService, log *logger.Logger, maxBodyBytes int64) *WebhookHandler {
	return &WebhookHandler{service: svc, logger: log, maxBodyBytes: maxBodyBytes}
}

// Message handles POST /api/webhook
func (h *WebhookHandler) Message(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, h.maxBodyBytes)
	if !ok {
		return
	}

	msg, err := h.service.IngestMessage(r.Context(), body)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{
		Success: true,
		Message: "Message processed successfully",
		Data:    msg,
	})
}

// Status handles POST /api/webhook/status
func (h *WebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, h.maxBodyBytes)
	if !ok {
		return
	}

	msg, err := h.service.IngestStatus(r.Context(), body)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{
		Success: true,
		Message: "Status updated successfully",
		Data:    msg,
	})
}
