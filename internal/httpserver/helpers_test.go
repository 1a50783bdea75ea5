package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/shelf/internal/auth"
	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/mirror"
	"github.com/MrSnakeDoc/shelf/internal/session"
)

var alice = domain.Identity{
	ID:       domain.OwnerID("fake", "alice"),
	Provider: "fake",
	Subject:  "alice",
	Email:    "alice@example.com",
	Name:     "Alice",
}

// memSessions is an in-memory session.Store.
type memSessions struct {
	mu   sync.Mutex
	byID map[string]session.Session
}

func (m *memSessions) Create(_ context.Context, s session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[s.ID] = s
	return nil
}

func (m *memSessions) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memSessions) Update(ctx context.Context, s session.Session) error { return m.Create(ctx, s) }

func (m *memSessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

// memRepo is an in-memory bookmark repository.
type memRepo struct {
	mu      sync.Mutex
	rows    map[string][]domain.Bookmark
	hold    chan struct{}
	started chan struct{}
}

func (r *memRepo) List(_ context.Context, ownerID string) ([]domain.Bookmark, error) {
	r.mu.Lock()
	hold, started := r.hold, r.started
	rows := append([]domain.Bookmark(nil), r.rows[ownerID]...)
	r.mu.Unlock()

	if hold != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		<-hold
	}
	return rows, nil
}

// holdLists makes List block until release is called. started fires once a
// held List call is running.
func (r *memRepo) holdLists() (started <-chan struct{}, release func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hold := make(chan struct{})
	r.hold = hold
	r.started = make(chan struct{}, 1)

	var once sync.Once
	return r.started, func() { once.Do(func() { close(hold) }) }
}

func (r *memRepo) Create(_ context.Context, ownerID string, draft domain.Draft) (domain.Bookmark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := domain.Bookmark{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		URL:       draft.URL(),
		Title:     draft.Title(),
		CreatedAt: time.Now().UTC(),
	}
	r.rows[ownerID] = append(r.rows[ownerID], b)
	return b, nil
}

func (r *memRepo) Delete(_ context.Context, ownerID, bookmarkID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.rows[ownerID]
	for i := range rows {
		if rows[i].ID == bookmarkID {
			r.rows[ownerID] = append(rows[:i], rows[i+1:]...)
			break
		}
	}
	return nil
}

func (r *memRepo) count(ownerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows[ownerID])
}

// quietFeed hands out subscriptions that never deliver anything.
type quietFeed struct{}

type quietSub struct {
	ch   chan domain.ChangeEvent
	once sync.Once
}

func (quietFeed) Subscribe(context.Context, string) (mirror.Subscription, error) {
	return &quietSub{ch: make(chan domain.ChangeEvent)}, nil
}

func (s *quietSub) Events() <-chan domain.ChangeEvent { return s.ch }

func (s *quietSub) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

// fakeProvider accepts the code "good".
type fakeProvider struct{}

func (fakeProvider) Name() string { return "fake" }

func (fakeProvider) AuthCodeURL(state, verifier string) string {
	return "https://idp.example/authorize?" + url.Values{"state": {state}, "v": {verifier}}.Encode()
}

func (fakeProvider) Exchange(_ context.Context, code, verifier string) (domain.Identity, error) {
	if code != "good" || verifier == "" {
		return domain.Identity{}, &domain.AuthError{Reason: "exchange failed", Err: errors.New("bad code")}
	}
	return alice, nil
}

var _ auth.Provider = fakeProvider{}

type testEnv struct {
	handler  http.Handler
	gate     *session.Gate
	registry *mirror.Registry
	repo     *memRepo
	deps     deps.Deps
}

func newEnv(t *testing.T, mutate ...func(*deps.Deps)) *testEnv {
	t.Helper()
	log := logger.NewNop()

	repo := &memRepo{rows: make(map[string][]domain.Bookmark)}
	gate := session.NewGate(&memSessions{byID: make(map[string]session.Session)}, session.GateOptions{TTL: time.Hour}, log)
	registry := mirror.NewRegistry(func() *mirror.Controller {
		return mirror.New(repo, quietFeed{}, mirror.Options{}, log)
	}, time.Hour, log)
	t.Cleanup(registry.Close)
	t.Cleanup(registry.Bind(gate))

	d := deps.Deps{
		Logger:             log,
		StartTime:          time.Now(),
		Version:            "test",
		PublicURL:          "http://shelf.test",
		RateBurst:          100,
		RateRefillPerMin:   600,
		ImportMaxBytes:     1 << 16,
		MaxImportEntries:   10,
		StreamPingInterval: time.Second,
		Gate:               gate,
		Registry:           registry,
		Provider:           fakeProvider{},
		Flows:              auth.NewFlowStore([]byte("0123456789abcdef0123456789abcdef"), false),
		Checks: []deps.Check{
			{Name: "postgres", Ping: func(context.Context) error { return nil }},
			{Name: "redis", Ping: func(context.Context) error { return nil }},
		},
	}
	for _, m := range mutate {
		m(&d)
	}

	return &testEnv{
		handler:  NewRouter(log, d),
		gate:     gate,
		registry: registry,
		repo:     repo,
		deps:     d,
	}
}

// signIn opens a session for alice and returns its cookie.
func (e *testEnv) signIn(t *testing.T) *http.Cookie {
	t.Helper()
	s, err := e.gate.SignIn(context.Background(), alice)
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	rec := httptest.NewRecorder()
	session.SetCookie(rec, s, e.deps.CookieOptions())
	return rec.Result().Cookies()[0]
}

func (e *testEnv) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}
