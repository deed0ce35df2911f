package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"quotefeed/internal/auth"
)

type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`
}

// NewTokenHandler exchanges the built-in credential pair (via Basic auth) for
// a bearer token, so reconnecting clients skip the slow hash.
func NewTokenHandler(authn *auth.Service, tokens *auth.TokenService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="quotefeed"`)
			http.Error(w, "credentials required", http.StatusUnauthorized)
			return
		}

		principal, err := authn.Authenticate(r.Context(), auth.Credentials{Username: username, Password: password})
		if err != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		token, err := tokens.IssueToken(principal)
		if err != nil {
			logger.ErrorContext(r.Context(), "token issue failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(tokenResponse{Token: token, TokenType: "Bearer"}); err != nil {
			logger.DebugContext(r.Context(), "token response write failed", "error", err)
		}
	}
}
