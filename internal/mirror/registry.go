package mirror

import (
	"errors"
	"sync"
	"time"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/session"
)

// Factory builds an idle controller.
type Factory func() *Controller

// Registry maps session ids to their controllers.
type Registry struct {
	mu            sync.RWMutex
	controllers   map[string]*Controller // session ID -> controller
	newController Factory
	idleTTL       time.Duration
	logger        logger.Logger
	lastSweep     time.Time
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Controllers int       `json:"controllers"`
	Live        int       `json:"live"`
	Watchers    int       `json:"watchers"`
	LastSweep   time.Time `json:"last_sweep"`
}

// NewRegistry creates an empty registry. A zero idleTTL disables sweeping.
func NewRegistry(factory Factory, idleTTL time.Duration, log logger.Logger) *Registry {
	return &Registry{
		controllers:   make(map[string]*Controller),
		newController: factory,
		idleTTL:       idleTTL,
		logger:        log,
	}
}

// Acquire returns the controller for sessionID, creating it if needed, and
// activates it for the identity's owner.
func (r *Registry) Acquire(sessionID string, identity domain.Identity) (*Controller, error) {
	if sessionID == "" || identity.ID == "" {
		return nil, &domain.AuthError{Reason: "no session"}
	}

	ctrl := r.getOrCreate(sessionID)
	err := ctrl.Activate(identity.ID)
	if errors.Is(err, ErrClosed) {
		// Swept between lookup and activation.
		r.forget(sessionID, ctrl)
		ctrl = r.getOrCreate(sessionID)
		err = ctrl.Activate(identity.ID)
	}
	if err != nil {
		return nil, err
	}
	return ctrl, nil
}

// Get returns the controller for sessionID, if any.
func (r *Registry) Get(sessionID string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctrl, ok := r.controllers[sessionID]
	return ctrl, ok
}

// Drop closes and removes the controller for sessionID.
func (r *Registry) Drop(sessionID string) bool {
	r.mu.Lock()
	ctrl, ok := r.controllers[sessionID]
	delete(r.controllers, sessionID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	_ = ctrl.Close()
	r.logger.Debug("bookmark view dropped", logger.String("session_id", shortID(sessionID)))
	return true
}

// HandleTransition tears views down on sign-out and re-targets them when a
// session is bound to a different owner.
func (r *Registry) HandleTransition(t session.Transition) {
	switch t.State {
	case session.StateUnauthenticated:
		r.Drop(t.SessionID)
	case session.StateAuthenticated:
		if t.Identity == nil {
			return
		}
		ctrl, ok := r.Get(t.SessionID)
		if !ok {
			return
		}
		if err := ctrl.Activate(t.Identity.ID); err != nil && !errors.Is(err, ErrClosed) {
			r.logger.Warn("failed to re-activate bookmark view",
				logger.String("session_id", shortID(t.SessionID)),
				logger.Error(err))
		}
	}
}

// Bind subscribes the registry to gate transitions. The returned func unsubscribes.
func (r *Registry) Bind(gate *session.Gate) func() {
	return gate.OnChange(r.HandleTransition)
}

// Sweep closes controllers without watchers that have been idle longer than
// the idle TTL and returns how many were closed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	r.lastSweep = now
	if r.idleTTL <= 0 {
		r.mu.Unlock()
		return 0
	}
	var victims []*Controller
	for id, ctrl := range r.controllers {
		idle, ok := ctrl.Idle(now)
		if !ok || idle < r.idleTTL {
			continue
		}
		delete(r.controllers, id)
		victims = append(victims, ctrl)
	}
	r.mu.Unlock()

	for _, ctrl := range victims {
		_ = ctrl.Close()
	}
	return len(victims)
}

// Count returns the number of registered controllers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.controllers)
}

// Stats summarises the registry.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Controllers: len(r.controllers), LastSweep: r.lastSweep}
	for _, ctrl := range r.controllers {
		if ctrl.Snapshot().Live {
			s.Live++
		}
		s.Watchers += ctrl.Watchers()
	}
	return s
}

// Close closes every controller.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.controllers
	r.controllers = make(map[string]*Controller)
	r.mu.Unlock()

	for _, ctrl := range all {
		_ = ctrl.Close()
	}
}

func (r *Registry) getOrCreate(sessionID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctrl, ok := r.controllers[sessionID]
	if !ok {
		ctrl = r.newController()
		r.controllers[sessionID] = ctrl
	}
	ctrl.touch()
	return ctrl
}

func (r *Registry) forget(sessionID string, ctrl *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.controllers[sessionID] == ctrl {
		delete(r.controllers, sessionID)
	}
}

// shortID keeps session ids out of logs.
func shortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[:6] + "…"
}
