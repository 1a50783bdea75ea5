package mw

import (
	"context"
	"net/http"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/session"
	"github.com/MrSnakeDoc/shelf/internal/utils"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	sessionIDKey
)

// WithSession returns a context carrying the session id and its identity.
func WithSession(ctx context.Context, sessionID string, identity domain.Identity) context.Context {
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	return context.WithValue(ctx, identityKey, identity)
}

// Identity returns the identity stored by RequireSession.
func Identity(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey).(domain.Identity)
	return id, ok
}

// SessionID returns the session id stored by RequireSession, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// RequireSession resolves the session cookie through the gate. Requests
// without a valid session get 401; a dead session cookie is cleared and its
// local views torn down. Valid sessions are refreshed past their half-life.
func RequireSession(gate *session.Gate, cookies session.CookieOptions, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sid := session.ReadCookie(r, cookies)

			identity, err := gate.Current(ctx, sid)
			if err != nil {
				if sid != "" {
					gate.Expire(sid)
					session.ClearCookie(w, cookies)
				}
				log.Debug("request without valid session",
					logger.String("path", r.URL.Path),
					logger.Error(err))
				writeError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}

			refreshed, err := gate.Touch(ctx, sid)
			if err != nil {
				log.Warn("failed to refresh session", logger.Error(err))
			} else if refreshed != nil {
				session.SetCookie(w, *refreshed, cookies)
			}

			next.ServeHTTP(w, r.WithContext(WithSession(ctx, sid, *identity)))
		})
	}
}

// SessionOrIP keys rate limits by session when there is one, by client IP otherwise.
func SessionOrIP(trustProxy bool) func(r *http.Request) string {
	return func(r *http.Request) string {
		if sid := SessionID(r.Context()); sid != "" {
			return "session:" + sid
		}
		return "ip:" + utils.ClientIP(r, trustProxy)
	}
}
