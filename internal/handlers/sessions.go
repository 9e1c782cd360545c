package handlers

import (
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/xicheng412/CliCast/internal/config"
	"github.com/xicheng412/CliCast/internal/pathguard"
	"github.com/xicheng412/CliCast/internal/session"
)

// SessionHandlers owns the session CRUD surface.
type SessionHandlers struct {
	Registry *session.Registry
	Config   *config.Store
}

// Create handles POST /api/sessions. It validates the working directory
// against the path guard and registers a session record; the PTY starts on
// the first WebSocket init.
func (h *SessionHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path        string `json:"path"`
		AICommandID string `json:"aiCommandId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	clean, err := pathguard.Canonicalize(body.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "path must be an absolute path")
		return
	}
	if info, err := os.Stat(clean); err != nil || !info.IsDir() {
		writeError(w, http.StatusBadRequest, "path does not exist or is not a directory")
		return
	}
	if !pathguard.Allowed(clean, h.Config.AllowedDirs()) {
		writeError(w, http.StatusForbidden, "path is outside the allowed directories")
		return
	}

	cmd, ok := h.Config.CommandByID(body.AICommandID)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown aiCommandId")
		return
	}

	s := h.Registry.Create(clean, cmd.Cmd)
	writeData(w, http.StatusCreated, map[string]interface{}{
		"session": s.Info(),
		"wsUrl":   wsURL(r, s.ID),
	})
}

// wsURL builds the WebSocket URL a browser should dial for a session,
// matching the scheme the request arrived on.
func wsURL(r *http.Request, sessionID string) string {
	scheme := "ws"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws?sessionId=%s", scheme, r.Host, sessionID)
}

// List handles GET /api/sessions.
func (h *SessionHandlers) List(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]interface{}{
		"sessions": h.Registry.List(),
	})
}

// Get handles GET /api/sessions/{id}.
func (h *SessionHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s := h.Registry.Get(id)
	if s == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"session": s.Info()})
}

// Delete handles DELETE /api/sessions/{id}: terminate and remove the record.
func (h *SessionHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.Registry.Delete(id) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

// Stop handles POST /api/sessions/{id}/stop: terminate but keep the record.
func (h *SessionHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.Registry.Terminate(id, session.StatusTerminated) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	s := h.Registry.Get(id)
	writeData(w, http.StatusOK, map[string]interface{}{"session": s.Info()})
}
