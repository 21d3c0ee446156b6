package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
	"github.com/AnshRaj112/chatrelay-backend/internal/services"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
)

// ConversationsResponse is returned by GET /api/messages/conversations.
type ConversationsResponse struct {
	Success bool                  `json:"success"`
	Count   int                   `json:"count"`
	Data    []models.Conversation `json:"data"`
}

// PageResponse is returned by GET /api/messages/conversations/{wa_id}.
type PageResponse struct {
	Success bool                `json:"success"`
	Data    *models.MessagePage `json:"data"`
}

// MarkReadResponse is returned by PUT /api/messages/conversations/{wa_id}/read.
type MarkReadResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    *models.MarkReadResult `json:"data"`
}

// SendRequest is the body of POST /api/messages/send.
type SendRequest struct {
	WaID string `json:"wa_id"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// SendResponse is returned by POST /api/messages/send.
type SendResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    *models.Message `json:"data"`
}

// MessageHandler serves the conversation query API and local sends.
type MessageHandler struct {
	service      *services.IngestionService
	logger       *logger.Logger
	maxBodyBytes int64
}

func NewMessageHandler(svc *services.IngestionService, log *logger.Logger, maxBodyBytes int64) *MessageHandler {
	return &MessageHandler{service: svc, logger: log, maxBodyBytes: maxBodyBytes}
}

// ListConversations handles GET /api/messages/conversations
func (h *MessageHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.service.ListConversations(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationsResponse{Success: true, Count: len(convs), Data: convs})
}

// queryInt parses a positive integer query parameter, returning 0 when it is
// absent or unusable so the service default applies.
func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// GetConversation handles GET /api/messages/conversations/{wa_id}
// Query params:
//
//	page  (optional, default 1)
//	limit (optional, default 50, max 100)
func (h *MessageHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	waID := chi.URLParam(r, "wa_id")
	page, err := h.service.ConversationPage(r.Context(), waID, queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, PageResponse{Success: true, Data: page})
}

// MarkRead handles PUT /api/messages/conversations/{wa_id}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.MarkConversationRead(r.Context(), chi.URLParam(r, "wa_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MarkReadResponse{
		Success: true,
		Message: strconv.FormatInt(res.ModifiedCount, 10) + " messages marked as read",
		Data:    res,
	})
}

// Send handles POST /api/messages/send
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, h.maxBodyBytes)
	if !ok {
		return
	}

	var req SendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidJSON, "invalid request body")
		return
	}

	msg, err := h.service.SendLocal(r.Context(), req.WaID, req.Name, req.Text)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, SendResponse{
		Success: true,
		Message: "Message sent successfully",
		Data:    msg,
	})
}
