package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/session"
)

// Login starts the OAuth flow and redirects to the provider.
func Login(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow, err := d.Flows.Begin(w, r, r.URL.Query().Get("next"))
		if err != nil {
			d.Logger.Error("failed to start sign-in", logger.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "sign-in unavailable"})
			return
		}
		http.Redirect(w, r, d.Provider.AuthCodeURL(flow.State, flow.Verifier), http.StatusFound)
	}
}

// Callback completes the OAuth flow, opens a session and lands on the
// bookmark view. Any failure lands on the entry view instead.
func Callback(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		fail := func(reason string, err error) {
			d.Logger.Warn("sign-in failed",
				logger.String("reason", reason),
				logger.String("provider", d.Provider.Name()),
				logger.Error(err))
			http.Redirect(w, r, "/", http.StatusFound)
		}

		flow, err := d.Flows.Complete(w, r)
		if err != nil {
			fail("flow", err)
			return
		}
		if e := q.Get("error"); e != "" {
			fail("provider", &providerError{code: e, description: q.Get("error_description")})
			return
		}

		identity, err := d.Provider.Exchange(r.Context(), q.Get("code"), flow.Verifier)
		if err != nil {
			fail("exchange", err)
			return
		}

		sess, err := d.Gate.SignIn(r.Context(), identity)
		if err != nil {
			fail("session", err)
			return
		}

		session.SetCookie(w, sess, d.CookieOptions())
		d.Logger.Info("user signed in",
			logger.String("owner_id", identity.ID),
			logger.String("provider", identity.Provider))
		http.Redirect(w, r, flow.Next, http.StatusFound)
	}
}

// Logout ends the session. It always succeeds.
func Logout(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookies := d.CookieOptions()
		if sid := session.ReadCookie(r, cookies); sid != "" {
			if err := d.Gate.SignOut(r.Context(), sid); err != nil {
				d.Logger.Warn("sign-out failed", logger.Error(err))
			}
		}
		session.ClearCookie(w, cookies)
		w.WriteHeader(http.StatusNoContent)
	}
}

type providerError struct {
	code        string
	description string
}

func (e *providerError) Error() string {
	if e.description == "" {
		return e.code
	}
	return e.code + ": " + e.description
}
