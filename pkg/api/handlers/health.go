package handlers

import (
	"net/http"

	"github.com/sagalog/sagalog/pkg/api/response"
	"github.com/sagalog/sagalog/pkg/inspect"
	"github.com/sagalog/sagalog/pkg/version"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	registry *inspect.Registry
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(registry *inspect.Registry) *HealthHandler {
	return &HealthHandler{
		registry: registry,
	}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe). The server is ready
// once at least one log source is registered.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if len(h.registry.Sources()) > 0 {
		response.JSON(w, http.StatusOK, map[string]bool{
			"ready": true,
		})
	} else {
		response.JSON(w, http.StatusServiceUnavailable, map[string]bool{
			"ready": false,
		})
	}
}

// Version handles the /version endpoint.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, version.Info())
}
