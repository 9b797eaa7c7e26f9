package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// Handler provides HTTP handlers for health check endpoints
type Handler struct {
	checker *HealthChecker
}

// NewHandler creates a new health check HTTP handler
func NewHandler(checker *HealthChecker) *Handler {
	return &Handler{checker: checker}
}

// HealthResponse is the detailed health check response
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// Health handles GET /health - returns detailed health status as JSON.
// DEGRADED still returns 200; only DOWN maps to 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.checker.Check(r.Context())

	response := HealthResponse{
		Status:    status.Overall,
		Timestamp: status.Timestamp,
		Checks:    status.Checks,
	}

	statusCode := http.StatusOK
	if status.Overall == StatusDown {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Ready handles GET /ready - readiness probe. 200 if ready, 503 if not.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	if h.checker.Ready(r.Context()) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Service Unavailable"))
	}
}

// Live handles GET /live - liveness probe. Responding at all is the check.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
