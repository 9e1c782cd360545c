// Package middleware holds the HTTP middleware shared by the API routes.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/xicheng412/CliCast/internal/auth"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireToken gates a route group on the bearer token. The token is read
// from the Authorization header or the token query parameter; both paths
// verify identically.
func RequireToken(tokens *auth.TokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := auth.FromRequest(r.Header.Get("Authorization"), r.URL.Query().Get("token"))
			if !tokens.Verify(tok) {
				writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
					"success": false,
					"error":   "Unauthorized",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
