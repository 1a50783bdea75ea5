package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/shelf/internal/auth"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/mirror"
	"github.com/MrSnakeDoc/shelf/internal/session"
)

// Check is one readiness probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// RelayStatus exposes the change relay's health.
type RelayStatus interface {
	Live() bool
	Forwarded() uint64
	Reconnects() uint64
}

type Deps struct {
	Logger             logger.Logger
	StartTime          time.Time
	Version            string
	Commit             string
	BuildDate          string
	GoVersion          string
	TimeNow            func() time.Time // for testing, defaults to time.Now
	AllowedHosts       []string         // Host headers allowed to access the server
	AllowedCIDRS       []string         // IPs allowed to access healthz/readyz/infra
	TrustProxy         bool             // true if running behind a trusted reverse proxy (e.g., cloudflared)
	PublicURL          string           // external base URL, also accepted as websocket Origin
	SecureCookies      bool
	RateBurst          int
	RateRefillPerMin   int
	ImportMaxBytes     int64
	MaxImportEntries   int
	StreamPingInterval time.Duration
	Gate               *session.Gate
	Registry           *mirror.Registry
	Provider           auth.Provider
	Flows              *auth.FlowStore
	Relay              RelayStatus // nil when the relay is not running
	Checks             []Check     // readiness probes (postgres, redis)
}

// Now returns the current time through TimeNow when set.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}

// CookieOptions returns the session cookie settings.
func (d Deps) CookieOptions() session.CookieOptions {
	return session.CookieOptions{Secure: d.SecureCookies}
}
