package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/ipulse-dev/ipulse/internal/session"
	"github.com/ipulse-dev/ipulse/internal/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo     store.Repository
	sessions session.Store
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, sessions session.Store) *HealthHandler {
	return &HealthHandler{repo: repo, sessions: sessions}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["database"] = "ok"
	}

	// A failing session store degrades logins but not stored analytics.
	if _, err := h.sessions.Get(ctx, "health-check-probe"); err != nil && !errdefs.IsNotFound(err) {
		slog.Error("Session store health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["sessions"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["sessions"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
