package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/mw"
)

type sessionResponse struct {
	domain.Identity
	DisplayName string `json:"display_name"`
}

// Session returns the identity behind the current session.
func Session(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := mw.Identity(r.Context())
		if !ok {
			writeError(w, d.Logger, &domain.AuthError{Reason: "no session"})
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{Identity: identity, DisplayName: identity.DisplayName()})
	}
}
