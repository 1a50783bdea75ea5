package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/mw"
)

func init() { Register(registerAuth, middleware.Timeout(RequestTimeout)) }

func registerAuth(r chi.Router, d deps.Deps) {
	limited := r.With(
		mw.EnforceHost(d.AllowedHosts, d.Logger),
		mw.RateLimit(mw.RateLimitConfig{
			Burst:        d.RateBurst,
			RefillPerMin: d.RateRefillPerMin,
			MaxEntries:   10_000,
			TrustProxy:   d.TrustProxy,
		}),
	)
	limited.Get("/auth/login", handlers.Login(d))
	limited.Get("/auth/callback", handlers.Callback(d))
	limited.Post("/auth/logout", handlers.Logout(d))
}
