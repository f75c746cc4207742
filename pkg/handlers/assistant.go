package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/apperrors"
	"github.com/sweetline/sales-assistant/pkg/audit"
	"github.com/sweetline/sales-assistant/pkg/services"
)

// maxMessageLength bounds a chat message in characters.
const maxMessageLength = 4000

// ChatRequest is the body of POST /api/assistant/chat.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// AssistantHandler serves the chat and session endpoints.
type AssistantHandler struct {
	intelligence services.IntelligenceService
	logger       *zap.Logger
}

// NewAssistantHandler creates a new AssistantHandler.
func NewAssistantHandler(intelligence services.IntelligenceService, logger *zap.Logger) *AssistantHandler {
	return &AssistantHandler{
		intelligence: intelligence,
		logger:       logger,
	}
}

// RegisterRoutes registers the assistant routes. rateLimit wraps the chat
// endpoint, the only one that calls the LLM.
func (h *AssistantHandler) RegisterRoutes(mux *http.ServeMux, rateLimit func(http.Handler) http.Handler) {
	base := "/api/assistant"

	mux.Handle("POST "+base+"/chat", rateLimit(http.HandlerFunc(h.Chat)))
	mux.HandleFunc("GET "+base+"/sessions/{sid}/history", h.History)
	mux.HandleFunc("DELETE "+base+"/sessions/{sid}", h.ClearSession)
}

// Chat handles POST /api/assistant/chat
func (h *AssistantHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" || len([]rune(message)) > maxMessageLength {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_message", "Message must be between 1 and 4000 characters"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	info := audit.RequestInfoFromContext(r.Context())
	info.SessionID = req.SessionID
	ctx := audit.WithRequestInfo(r.Context(), info)

	resp, err := h.intelligence.ProcessMessage(ctx, req.SessionID, message)
	if err != nil {
		status, code := http.StatusInternalServerError, "chat_failed"
		if errors.Is(err, apperrors.ErrInvalidInput) {
			status, code = http.StatusBadRequest, "invalid_message"
		} else {
			h.logger.Error("Failed to process message",
				zap.String("session_id", req.SessionID),
				zap.Error(err))
		}
		if err := ErrorResponse(w, status, code, err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	status := http.StatusOK
	if resp.AssistantUnavailable {
		status = http.StatusServiceUnavailable
	}
	if err := WriteJSON(w, status, ApiResponse{Success: !resp.AssistantUnavailable, Data: resp}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// History handles GET /api/assistant/sessions/{sid}/history
func (h *AssistantHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sid")

	turns, err := h.intelligence.History(r.Context(), sessionID)
	if err != nil {
		h.writeSessionError(w, sessionID, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]any{
		"session_id": sessionID,
		"history":    turns,
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ClearSession handles DELETE /api/assistant/sessions/{sid}
func (h *AssistantHandler) ClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sid")

	if err := h.intelligence.ClearSession(r.Context(), sessionID); err != nil {
		h.writeSessionError(w, sessionID, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Session cleared"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *AssistantHandler) writeSessionError(w http.ResponseWriter, sessionID string, err error) {
	if errors.Is(err, apperrors.ErrSessionNotFound) {
		if err := ErrorResponse(w, http.StatusNotFound, "session_not_found", "Session not found"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.logger.Error("Session store failure", zap.String("session_id", sessionID), zap.Error(err))
	if err := ErrorResponse(w, http.StatusInternalServerError, "session_store_failed", "Failed to access session"); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
