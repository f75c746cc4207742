package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/config"
	"github.com/sweetline/sales-assistant/pkg/llm"
	"github.com/sweetline/sales-assistant/pkg/services"
)

const healthProbeTimeout = 3 * time.Second

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse reports the availability of the assistant's dependencies.
// Status is "ok", "degraded" (LLM down, SQL still usable) or "unavailable"
// (database down).
type HealthResponse struct {
	Status   string `json:"status"`
	Database bool   `json:"database"`
	LLM      bool   `json:"llm"`
	Model    string `json:"model,omitempty"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg       *config.Config
	firewall  services.SecureQueryService
	llmClient llm.LLMClient
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. firewall and llmClient may be
// nil, in which case the dependency is reported as unavailable.
func NewHealthHandler(cfg *config.Config, firewall services.SecureQueryService, llmClient llm.LLMClient, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, firewall: firewall, llmClient: llmClient, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
// Returns 503 only when the database is unreachable.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	response := HealthResponse{}
	if h.firewall != nil {
		response.Database = h.firewall.IsAvailable(ctx)
	}
	if h.llmClient != nil {
		response.LLM = h.llmClient.IsAvailable()
		response.Model = h.llmClient.GetModel()
	}

	status := http.StatusOK
	switch {
	case !response.Database:
		response.Status = "unavailable"
		status = http.StatusServiceUnavailable
	case !response.LLM:
		response.Status = "degraded"
	default:
		response.Status = "ok"
	}

	if err := WriteJSON(w, status, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "sales-assistant",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
