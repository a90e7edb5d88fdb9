package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ipulse-dev/ipulse/internal/bridge"
)

// IPUHandler exposes the portal session bridge over HTTP.
type IPUHandler struct {
	*Handler
}

// NewIPUHandler creates the bridge handler.
func NewIPUHandler(base *Handler) *IPUHandler {
	return &IPUHandler{Handler: base}
}

// RegisterRoutes registers the bridge routes.
func (h *IPUHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/ipu", func(r chi.Router) {
		r.Get("/captcha", h.GetCaptcha)
		r.Post("/login", h.Login)
		r.Get("/results", h.GetResults)
	})
}

// GetCaptcha fetches a fresh captcha challenge and mints a portal session.
func (h *IPUHandler) GetCaptcha(w http.ResponseWriter, r *http.Request) {
	captcha, err := h.bridge.FetchCaptcha(r.Context())
	if err != nil {
		slog.Error("Captcha fetch failed", "error", err)
		Fail(w, bridgeStatus(err), bridge.Message(err))
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"captchaImage": captcha.ImageDataURL,
		"sessionId":    captcha.Token,
	})
}

type loginRequest struct {
	Username       string `json:"username"`
	HashedPassword string `json:"hashedPassword"`
	Captcha        string `json:"captcha"`
	SessionID      string `json:"sessionId"`
}

// Login replays hashed credentials against the portal.
func (h *IPUHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.bridge.SubmitLogin(r.Context(), bridge.LoginAttempt{
		Username:       req.Username,
		HashedPassword: req.HashedPassword,
		CaptchaAnswer:  req.Captcha,
		SessionToken:   req.SessionID,
	})
	if err != nil {
		// Classified outcomes are part of the normal login conversation;
		// only unexpected upstream behavior is logged at error level.
		if errors.Is(err, bridge.ErrLoginFailed) || errors.Is(err, bridge.ErrUpstreamUnavailable) || errors.Is(err, bridge.ErrUpstreamTimeout) {
			slog.Error("Login failed", "error", err)
		} else {
			slog.Info("Login rejected", "reason", bridge.Message(err))
		}

		status := bridgeStatus(err)
		if errors.Is(err, bridge.ErrInvalidCaptcha) || errors.Is(err, bridge.ErrInvalidCredentials) || errors.Is(err, bridge.ErrLoginFailed) {
			// The original API reports these as 200 with success=false;
			// the client distinguishes by message.
			status = http.StatusOK
		}
		Fail(w, status, bridge.Message(err))
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Login successful",
		"sessionId": token,
	})
}

// GetResults pulls raw result records for a live session.
func (h *IPUHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		Fail(w, http.StatusUnauthorized, "Session ID required")
		return
	}
	semester := r.URL.Query().Get("semester")

	records, err := h.bridge.FetchResults(r.Context(), sessionID, semester)
	if err != nil {
		slog.Warn("Results fetch failed", "error", err)
		Fail(w, bridgeStatus(err), bridge.Message(err))
		return
	}

	if len(records) == 0 {
		JSON(w, http.StatusOK, map[string]any{
			"success": true,
			"results": []json.RawMessage{},
			"message": "No results found",
		})
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"results": records,
	})
}

// bridgeStatus maps a classified bridge error to an HTTP status.
func bridgeStatus(err error) int {
	switch {
	case errors.Is(err, bridge.ErrMissingField):
		return http.StatusBadRequest
	case errors.Is(err, bridge.ErrSessionMissing),
		errors.Is(err, bridge.ErrSessionExpired),
		errors.Is(err, bridge.ErrInvalidUpstreamResponse):
		return http.StatusUnauthorized
	case errors.Is(err, bridge.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, bridge.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
