package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/mw"
)

// The stream lives as long as the client stays connected: no request timeout.
func init() { Register(registerStream) }

func registerStream(r chi.Router, d deps.Deps) {
	r.With(
		mw.EnforceHost(d.AllowedHosts, d.Logger),
		mw.RequireSession(d.Gate, d.CookieOptions(), d.Logger),
	).Get("/api/bookmarks/stream", handlers.Stream(d))
}
