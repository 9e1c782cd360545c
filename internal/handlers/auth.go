package handlers

import (
	"errors"
	"net/http"

	"github.com/xicheng412/CliCast/internal/auth"
)

// AuthHandlers exposes the token bootstrap and management endpoints. None of
// the initialization or verification routes are themselves token-gated;
// rotation proves possession of the current token instead.
type AuthHandlers struct {
	Tokens *auth.TokenStore
}

// Status handles GET /api/auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]bool{"hasToken": h.Tokens.Status()})
}

// Init handles POST /api/auth/init, the single-shot first-time token
// creation.
func (h *AuthHandlers) Init(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	switch err := h.Tokens.Init(body.Token); {
	case errors.Is(err, auth.ErrWeakToken):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "Token already initialized")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to store token")
	default:
		writeData(w, http.StatusCreated, map[string]bool{"initialized": true})
	}
}

// Verify handles POST /api/auth/verify, the login check.
func (h *AuthHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if !h.Tokens.Verify(body.Token) {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"valid": true})
}

// Rotate handles PUT /api/auth. Possession of the current token authorizes
// the rotation.
func (h *AuthHandlers) Rotate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentToken string `json:"currentToken"`
		NewToken     string `json:"newToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	switch err := h.Tokens.Rotate(body.CurrentToken, body.NewToken); {
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Invalid current token")
	case errors.Is(err, auth.ErrWeakToken):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to rotate token")
	default:
		writeData(w, http.StatusOK, map[string]bool{"rotated": true})
	}
}

// Clear handles DELETE /api/auth (token-gated by the router).
func (h *AuthHandlers) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.Tokens.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear token")
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"cleared": true})
}
