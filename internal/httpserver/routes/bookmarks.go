package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/mw"
)

func init() { Register(registerBookmarks, middleware.Timeout(RequestTimeout)) }

func registerBookmarks(r chi.Router, d deps.Deps) {
	api := r.With(
		mw.EnforceHost(d.AllowedHosts, d.Logger),
		mw.RequireSession(d.Gate, d.CookieOptions(), d.Logger),
	)
	writes := api.With(mw.RateLimit(mw.RateLimitConfig{
		Burst:        d.RateBurst,
		RefillPerMin: d.RateRefillPerMin,
		MaxEntries:   10_000,
		TrustProxy:   d.TrustProxy,
		Key:          mw.SessionOrIP(d.TrustProxy),
	}))

	api.Get("/api/session", handlers.Session(d))
	api.Get("/api/bookmarks", handlers.ListBookmarks(d))
	writes.Post("/api/bookmarks", handlers.CreateBookmark(d))
	writes.Delete("/api/bookmarks/{id}", handlers.DeleteBookmark(d))
	writes.Post("/api/bookmarks/reload", handlers.Reload(d))
	writes.Post("/api/bookmarks/import", handlers.ImportBookmarks(d))
}
