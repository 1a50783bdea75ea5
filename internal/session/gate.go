package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
)

// State of a session as seen by the gate.
type State string

const (
	StateUnknown         State = "unknown"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// Reason explains a transition.
type Reason string

const (
	ReasonSignIn  Reason = "sign_in"
	ReasonSignOut Reason = "sign_out"
	ReasonRefresh Reason = "refresh"
	ReasonExpired Reason = "expired"
)

// Transition is delivered to OnChange listeners.
type Transition struct {
	SessionID string           `json:"session_id"`
	State     State            `json:"state"`
	Reason    Reason           `json:"reason"`
	Identity  *domain.Identity `json:"identity,omitempty"`

	// Origin is the instance that produced the transition.
	Origin string `json:"origin"`
}

// GateOptions configures a Gate.
type GateOptions struct {
	TTL time.Duration // absolute session lifetime

	// Bus, when set, fans transitions out to other instances over Redis.
	Bus *redis.Client

	Now func() time.Time // defaults to time.Now
}

// Gate resolves sessions to identities and notifies listeners on sign-in,
// sign-out, refresh and expiry. Every lookup fails closed.
type Gate struct {
	store    Store
	ttl      time.Duration
	bus      *redis.Client
	now      func() time.Time
	logger   logger.Logger
	instance string

	mu        sync.Mutex
	listeners map[uint64]func(Transition)
	nextID    uint64
}

// NewGate creates a gate on top of store.
func NewGate(store Store, opts GateOptions, log logger.Logger) *Gate {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	instance, err := GenerateID()
	if err != nil {
		instance = opts.Now().Format(time.RFC3339Nano)
	}
	return &Gate{
		store:     store,
		ttl:       opts.TTL,
		bus:       opts.Bus,
		now:       opts.Now,
		logger:    log.With(logger.String("component", "session")),
		instance:  instance,
		listeners: make(map[uint64]func(Transition)),
	}
}

// TTL returns the configured session lifetime.
func (g *Gate) TTL() time.Duration { return g.ttl }

// Current returns the identity behind sessionID. It never mutates anything.
// Unknown, expired or unreadable sessions all yield an *domain.AuthError.
func (g *Gate) Current(ctx context.Context, sessionID string) (*domain.Identity, error) {
	s, err := g.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	id := s.Identity
	return &id, nil
}

// OnChange registers fn for every transition. The returned dispose func
// unregisters it and may be called any number of times.
func (g *Gate) OnChange(fn func(Transition)) (dispose func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.listeners, id)
			g.mu.Unlock()
		})
	}
}

// SignIn opens a new session for identity.
func (g *Gate) SignIn(ctx context.Context, identity domain.Identity) (Session, error) {
	if identity.ID == "" {
		return Session{}, &domain.AuthError{Reason: "identity without owner id"}
	}

	id, err := GenerateID()
	if err != nil {
		return Session{}, err
	}

	now := g.now()
	s := Session{
		ID:          id,
		Identity:    identity,
		CreatedAt:   now,
		RefreshedAt: now,
		ExpiresAt:   now.Add(g.ttl),
	}
	if err := g.store.Create(ctx, s); err != nil {
		return Session{}, &domain.AuthError{Reason: "session could not be stored", Err: err}
	}

	g.logger.Info("session opened",
		logger.String("owner_id", identity.ID),
		logger.String("provider", identity.Provider))
	g.notify(ctx, Transition{SessionID: id, State: StateAuthenticated, Reason: ReasonSignIn, Identity: &identity})
	return s, nil
}

// SignOut ends the session. Signing out an unknown session is a no-op.
func (g *Gate) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	// Best-effort read so listeners learn who left.
	s, _ := g.store.Get(ctx, sessionID)

	if err := g.store.Delete(ctx, sessionID); err != nil {
		return &domain.AuthError{Reason: "session could not be deleted", Err: err}
	}

	t := Transition{SessionID: sessionID, State: StateUnauthenticated, Reason: ReasonSignOut}
	if s != nil {
		id := s.Identity
		t.Identity = &id
		g.logger.Info("session closed", logger.String("owner_id", id.ID))
	}
	g.notify(ctx, t)
	return nil
}

// Touch slides the expiry forward once less than half of the TTL remains.
// It returns the refreshed session, or nil when no refresh was needed.
func (g *Gate) Touch(ctx context.Context, sessionID string) (*Session, error) {
	s, err := g.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := g.now()
	if s.ExpiresAt.Sub(now) > g.ttl/2 {
		return nil, nil
	}

	s.RefreshedAt = now
	s.ExpiresAt = now.Add(g.ttl)
	if err := g.store.Update(ctx, *s); err != nil {
		return nil, &domain.AuthError{Reason: "session could not be refreshed", Err: err}
	}

	id := s.Identity
	g.notify(ctx, Transition{SessionID: s.ID, State: StateAuthenticated, Reason: ReasonRefresh, Identity: &id})
	return s, nil
}

// Expire tells local listeners that sessionID is gone. Used when a lookup
// fails for a session this instance may still hold state for.
func (g *Gate) Expire(sessionID string) {
	if sessionID == "" {
		return
	}
	g.dispatch(Transition{SessionID: sessionID, State: StateUnauthenticated, Reason: ReasonExpired, Origin: g.instance})
}

// Listen consumes transitions published by other instances until ctx is done.
// Without a bus it just waits for ctx.
func (g *Gate) Listen(ctx context.Context) error {
	if g.bus == nil {
		<-ctx.Done()
		return nil
	}

	ps := g.bus.Subscribe(ctx, TransitionChannel)
	defer func() { _ = ps.Close() }()

	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	g.logger.Info("listening for session transitions", logger.String("channel", TransitionChannel))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("session transition channel closed")
			}
			var t Transition
			if err := json.Unmarshal([]byte(msg.Payload), &t); err != nil {
				g.logger.Warn("dropping malformed session transition", logger.Error(err))
				continue
			}
			if t.Origin == g.instance {
				continue
			}
			g.dispatch(t)
		}
	}
}

func (g *Gate) lookup(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, &domain.AuthError{Reason: "no session"}
	}

	s, err := g.store.Get(ctx, sessionID)
	switch {
	case err != nil:
		return nil, &domain.AuthError{Reason: "session lookup failed", Err: err}
	case s == nil:
		return nil, &domain.AuthError{Reason: "unknown session"}
	case s.Expired(g.now()):
		return nil, &domain.AuthError{Reason: "session expired"}
	}
	return s, nil
}

func (g *Gate) notify(ctx context.Context, t Transition) {
	t.Origin = g.instance
	g.dispatch(t)

	if g.bus == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		g.logger.Warn("failed to encode session transition", logger.Error(err))
		return
	}
	if err := g.bus.Publish(ctx, TransitionChannel, data).Err(); err != nil {
		g.logger.Warn("failed to publish session transition", logger.Error(err))
	}
}

func (g *Gate) dispatch(t Transition) {
	g.mu.Lock()
	fns := make([]func(Transition), 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}
