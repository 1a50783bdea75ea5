package session

import (
	"net/http"
	"time"
)

// CookieName carries the session id. The __Host- prefix pins it to this
// origin: Path=/, no Domain, Secure.
const CookieName = "__Host-shelf_session"

// devCookieName is used when Secure is off (plain http local development),
// since browsers reject __Host- cookies without Secure.
const devCookieName = "shelf_session"

// CookieOptions defines how session cookies are issued.
type CookieOptions struct {
	Secure bool
}

func (o CookieOptions) name() string {
	if o.Secure {
		return CookieName
	}
	return devCookieName
}

// SetCookie issues the session cookie.
func SetCookie(w http.ResponseWriter, s Session, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     opts.name(),
		Value:    s.ID,
		Path:     "/",
		Expires:  s.ExpiresAt,
		MaxAge:   int(time.Until(s.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie removes the session cookie from the client.
func ClearCookie(w http.ResponseWriter, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     opts.name(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ReadCookie returns the session id carried by r, or "".
func ReadCookie(r *http.Request, opts CookieOptions) string {
	c, err := r.Cookie(opts.name())
	if err != nil {
		return ""
	}
	return c.Value
}
