package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/sessions"
	"golang.org/x/oauth2"

	"github.com/MrSnakeDoc/shelf/internal/domain"
)

const (
	flowCookieName = "shelf_oauth"
	flowTTL        = 5 * time.Minute

	keyState    = "state"
	keyVerifier = "verifier"
	keyNext     = "next"
)

// Flow is the per-login state carried from /auth/login to /auth/callback.
type Flow struct {
	State    string
	Verifier string
	Next     string // local path to land on after sign-in
}

// FlowStore keeps the OAuth state and PKCE verifier in a signed,
// short-lived cookie so the callback can be served by any instance.
type FlowStore struct {
	store *sessions.CookieStore
}

// NewFlowStore creates a flow store signing cookies with secret.
func NewFlowStore(secret []byte, secure bool) *FlowStore {
	cs := sessions.NewCookieStore(secret)
	cs.Options = &sessions.Options{
		Path:     "/auth",
		MaxAge:   int(flowTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &FlowStore{store: cs}
}

// Begin starts a login: fresh state + verifier, saved in the flow cookie.
func (f *FlowStore) Begin(w http.ResponseWriter, r *http.Request, next string) (Flow, error) {
	state, err := randomToken()
	if err != nil {
		return Flow{}, err
	}
	flow := Flow{State: state, Verifier: oauth2.GenerateVerifier(), Next: SafeNext(next)}

	// A stale or tampered cookie decodes with an error; start over anyway.
	sess, _ := f.store.Get(r, flowCookieName)
	sess.Values[keyState] = flow.State
	sess.Values[keyVerifier] = flow.Verifier
	sess.Values[keyNext] = flow.Next
	if err := sess.Save(r, w); err != nil {
		return Flow{}, fmt.Errorf("save oauth flow: %w", err)
	}
	return flow, nil
}

// Complete checks the callback state against the flow cookie and clears it.
func (f *FlowStore) Complete(w http.ResponseWriter, r *http.Request) (Flow, error) {
	sess, err := f.store.Get(r, flowCookieName)
	if err != nil {
		return Flow{}, &domain.AuthError{Reason: "oauth flow cookie invalid", Err: err}
	}

	state, _ := sess.Values[keyState].(string)
	verifier, _ := sess.Values[keyVerifier].(string)
	next, _ := sess.Values[keyNext].(string)

	// Single use, whatever the outcome.
	sess.Options.MaxAge = -1
	_ = sess.Save(r, w)

	if state == "" || verifier == "" {
		return Flow{}, &domain.AuthError{Reason: "no oauth flow in progress"}
	}
	got := r.URL.Query().Get("state")
	if subtle.ConstantTimeCompare([]byte(got), []byte(state)) != 1 {
		return Flow{}, &domain.AuthError{Reason: "oauth state mismatch"}
	}
	return Flow{State: state, Verifier: verifier, Next: SafeNext(next)}, nil
}

// SafeNext only accepts local absolute paths, so the post-login redirect
// can never leave the site.
func SafeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return "/bookmarks"
	}
	return next
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
