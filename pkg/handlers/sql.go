package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/models"
	"github.com/sweetline/sales-assistant/pkg/services"
)

// ValidateSQLRequest is the body of POST /api/assistant/sql/validate.
type ValidateSQLRequest struct {
	SQL string `json:"sql"`
}

// ValidateSQLResponse reports whether the firewall would accept a statement.
type ValidateSQLResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// QuestionRequest is the body of POST /api/assistant/sql/query.
type QuestionRequest struct {
	Question string `json:"question"`
}

// SQLHandler exposes the firewall and the SQL generator directly.
type SQLHandler struct {
	firewall   services.SecureQueryService
	sqlService services.SQLQueryService
	logger     *zap.Logger
}

// NewSQLHandler creates a new SQLHandler.
func NewSQLHandler(firewall services.SecureQueryService, sqlService services.SQLQueryService, logger *zap.Logger) *SQLHandler {
	return &SQLHandler{
		firewall:   firewall,
		sqlService: sqlService,
		logger:     logger,
	}
}

// RegisterRoutes registers the SQL routes. rateLimit wraps the query
// endpoint, which calls the LLM.
func (h *SQLHandler) RegisterRoutes(mux *http.ServeMux, rateLimit func(http.Handler) http.Handler) {
	base := "/api/assistant/sql"

	mux.HandleFunc("POST "+base+"/validate", h.Validate)
	mux.Handle("POST "+base+"/query", rateLimit(http.HandlerFunc(h.Query)))
}

// Validate handles POST /api/assistant/sql/validate
// A rejected statement is still a 200: the answer is the validation result.
func (h *SQLHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateSQLRequest
	if err := decodeJSON(r, &req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := ValidateSQLResponse{Valid: true}
	if err := h.firewall.Validate(req.SQL); err != nil {
		response = ValidateSQLResponse{Valid: false, Error: err.Error()}
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Query handles POST /api/assistant/sql/query
func (h *SQLHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QuestionRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Question) == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Request must contain a question"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result := h.sqlService.QueryFromQuestion(r.Context(), strings.TrimSpace(req.Question))

	status := http.StatusOK
	if !result.Success {
		status = questionErrorStatus(result)
	}
	if err := WriteJSON(w, status, ApiResponse{Success: result.Success, Data: result, Error: string(result.ErrorKind)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// questionErrorStatus maps a failed question run to an HTTP status: security
// refusals are the caller's problem, execution and LLM outages are ours.
func questionErrorStatus(result *models.QuestionQueryResult) int {
	switch result.ErrorKind {
	case models.QueryErrorSecurity:
		return http.StatusBadRequest
	case models.QueryErrorExecution, models.QueryErrorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}
