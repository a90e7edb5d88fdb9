package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ipulse-dev/ipulse/internal/bridge"
	"github.com/ipulse-dev/ipulse/internal/domain"
	"github.com/ipulse-dev/ipulse/internal/identity"
)

// SyncHandler streams result-import progress over a WebSocket so the
// frontend can show per-semester progress instead of a spinner.
type SyncHandler struct {
	*Handler
	allowedOrigin string
	isDev         bool
}

// NewSyncHandler creates the WebSocket import handler.
func NewSyncHandler(base *Handler, allowedOrigin string, isDev bool) *SyncHandler {
	return &SyncHandler{
		Handler:       base,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// syncMessage is the client-to-server message. The client sends a single
// start message after connecting; everything after that is server-driven.
type syncMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Semester  string `json:"semester,omitempty"`
}

// syncEvent is the server-to-client progress event.
type syncEvent struct {
	Type     string `json:"type"`
	Stage    string `json:"stage,omitempty"`
	Semester int    `json:"semester,omitempty"`
	Subjects int    `json:"subjects,omitempty"`
	Total    int    `json:"total,omitempty"`
	Skipped  int    `json:"skipped,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	anonID := identity.AnonIDFromContext(r.Context())
	slog.Info("Import stream connection request", "anon_id", anonID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	enrollmentNo, err := h.repo.LinkedEnrollment(r.Context(), anonID)
	if err != nil || enrollmentNo == "" {
		http.Error(w, "no linked enrollment", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "anon_id", anonID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "import finished"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "anon_id", anonID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_, message, err := ws.Read(ctx)
	if err != nil {
		slog.Warn("WebSocket read error before start", "error", err, "anon_id", anonID)
		return
	}
	var msg syncMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.Type != "start" {
		h.writeEvent(ws, syncEvent{Type: "error", Message: "expected a start message"})
		return
	}
	if msg.SessionID == "" {
		h.writeEvent(ws, syncEvent{Type: "error", Message: "sessionId is required"})
		return
	}

	h.run(ctx, ws, enrollmentNo, msg)
}

func (h *SyncHandler) run(ctx context.Context, ws *websocket.Conn, enrollmentNo string, msg syncMessage) {
	h.writeEvent(ws, syncEvent{Type: "status", Stage: "fetching"})

	records, err := h.bridge.FetchResults(ctx, msg.SessionID, msg.Semester)
	if err != nil {
		h.writeEvent(ws, syncEvent{Type: "error", Message: bridge.Message(err)})
		return
	}

	h.writeEvent(ws, syncEvent{Type: "status", Stage: "importing", Total: len(records)})

	result, err := h.importer.ImportEach(ctx, enrollmentNo, records, func(rec *domain.AcademicRecord) {
		h.writeEvent(ws, syncEvent{
			Type:     "semester",
			Semester: rec.Semester,
			Subjects: len(rec.Subjects),
		})
	})
	if err != nil {
		slog.Error("Streamed import failed", "error", err, "enrollment_no", enrollmentNo)
		h.writeEvent(ws, syncEvent{Type: "error", Message: "failed to import results"})
		return
	}

	slog.Info("Streamed import finished",
		"enrollment_no", enrollmentNo,
		"semesters", len(result.Records),
		"skipped_rows", result.Skipped)

	h.writeEvent(ws, syncEvent{
		Type:    "done",
		Total:   len(result.Records),
		Skipped: result.Skipped,
	})
}

func (h *SyncHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *SyncHandler) writeEvent(ws *websocket.Conn, ev syncEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
	}
}
