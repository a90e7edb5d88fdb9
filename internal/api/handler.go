// Package api provides HTTP handlers for the iPulse API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ipulse-dev/ipulse/internal/bridge"
	"github.com/ipulse-dev/ipulse/internal/config"
	"github.com/ipulse-dev/ipulse/internal/importer"
	"github.com/ipulse-dev/ipulse/internal/store"
)

// Handler provides common handler dependencies.
type Handler struct {
	repo     store.Repository
	bridge   *bridge.Client
	importer *importer.Importer
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, bridgeClient *bridge.Client, im *importer.Importer, cfg *config.Config) *Handler {
	return &Handler{
		repo:     repo,
		bridge:   bridgeClient,
		importer: im,
		cfg:      cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Fail writes the bridge-style failure envelope used by the portal proxy
// endpoints: {success: false, message: ...}.
func Fail(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{"success": false, "message": message})
}
