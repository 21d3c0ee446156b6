package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/AnshRaj112/chatrelay-backend/internal/services"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
)

// ErrorCodeInvalidJSON is returned when a request body is not valid JSON.
const ErrorCodeInvalidJSON = "invalid_json"

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: code, Message: message})
}

// statusForKind maps a service error kind to its HTTP status.
func statusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps err to a response. Store details stay in the log.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error) {
	var svcErr *services.Error
	if !errors.As(err, &svcErr) {
		log.Error("unexpected error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, string(services.KindStoreFailure), "internal server error")
		return
	}
	if errors.Is(err, services.ErrMalformedPayload) {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidJSON, svcErr.Message)
		return
	}
	if svcErr.Kind == services.KindStoreFailure {
		log.Error("request failed", zap.Error(err))
	}
	writeError(w, statusForKind(svcErr.Kind), string(svcErr.Kind), svcErr.Message)
}

// readBody reads at most limit bytes. It reports false after writing the
// error response itself.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, string(services.KindValidation), "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, string(services.KindValidation), "failed to read request body")
		return nil, false
	}
	return body, true
}
