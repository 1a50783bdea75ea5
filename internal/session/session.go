package session

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/shelf/internal/domain"
)

// Session is one signed-in browser. It only carries the identity resolved at
// sign-in; provider tokens are never stored.
type Session struct {
	ID          string          `json:"id"`
	Identity    domain.Identity `json:"identity"`
	CreatedAt   time.Time       `json:"created_at"`
	RefreshedAt time.Time       `json:"refreshed_at"`
	ExpiresAt   time.Time       `json:"expires_at"` // absolute expiry
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists sessions. Get returns (nil, nil) for unknown ids.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Update(ctx context.Context, s Session) error
	Delete(ctx context.Context, sessionID string) error
}
