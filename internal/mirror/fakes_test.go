package mirror

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
)

const wait = 2 * time.Second

const (
	ownerA = "6f1c2f0e-9b8a-4c1e-8d52-0a1b2c3d4e5f"
	ownerB = "0d9e8f7a-6b5c-4d3e-9f21-1a2b3c4d5e6f"
)

// fakeRepo is an in-memory row store. Lists can be held per owner to
// simulate slow queries.
type fakeRepo struct {
	mu      sync.Mutex
	rows    map[string][]domain.Bookmark
	hold    map[string]chan struct{}
	listErr error
	lists   int
	creates int
	seq     int
	started chan string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rows:    make(map[string][]domain.Bookmark),
		hold:    make(map[string]chan struct{}),
		started: make(chan string, 64),
	}
}

func (r *fakeRepo) List(_ context.Context, ownerID string) ([]domain.Bookmark, error) {
	r.mu.Lock()
	r.lists++
	hold := r.hold[ownerID]
	err := r.listErr
	rows := append([]domain.Bookmark(nil), r.rows[ownerID]...)
	r.mu.Unlock()

	select {
	case r.started <- ownerID:
	default:
	}
	if hold != nil {
		<-hold
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *fakeRepo) Create(_ context.Context, ownerID string, draft domain.Draft) (domain.Bookmark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.creates++
	r.seq++
	b := domain.Bookmark{
		ID:        fmt.Sprintf("00000000-0000-4000-8000-%012d", r.seq),
		OwnerID:   ownerID,
		URL:       draft.URL(),
		Title:     draft.Title(),
		CreatedAt: t0.Add(time.Duration(r.seq) * time.Second),
	}
	r.rows[ownerID] = append(r.rows[ownerID], b)
	return b, nil
}

func (r *fakeRepo) Delete(_ context.Context, ownerID, bookmarkID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.rows[ownerID]
	for i := range rows {
		if rows[i].ID == bookmarkID {
			r.rows[ownerID] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *fakeRepo) seed(ownerID string, rows ...domain.Bookmark) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range rows {
		b.OwnerID = ownerID
		r.rows[ownerID] = append(r.rows[ownerID], b)
	}
}

func (r *fakeRepo) holdLists(ownerID string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.hold[ownerID] = ch
	return ch
}

func (r *fakeRepo) release(ownerID string) {
	r.mu.Lock()
	ch := r.hold[ownerID]
	delete(r.hold, ownerID)
	r.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func (r *fakeRepo) setListErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listErr = err
}

func (r *fakeRepo) counts() (lists, creates int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lists, r.creates
}

func (r *fakeRepo) count(ownerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows[ownerID])
}

func (r *fakeRepo) waitList(t *testing.T) string {
	t.Helper()
	select {
	case owner := <-r.started:
		return owner
	case <-time.After(wait):
		t.Fatal("timed out waiting for a list call")
		return ""
	}
}

// fakeSub is a subscription the test feeds by hand.
type fakeSub struct {
	owner  string
	mu     sync.Mutex
	events chan domain.ChangeEvent
	closed bool
}

func (s *fakeSub) Events() <-chan domain.ChangeEvent { return s.events }

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *fakeSub) send(ev domain.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.events <- ev
	}
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeFeed struct {
	mu   sync.Mutex
	err  error
	subs chan *fakeSub
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(chan *fakeSub, 16)}
}

func (f *fakeFeed) Subscribe(_ context.Context, ownerID string) (Subscription, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s := &fakeSub{owner: ownerID, events: make(chan domain.ChangeEvent, 64)}
	f.subs <- s
	return s, nil
}

func (f *fakeFeed) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFeed) next(t *testing.T) *fakeSub {
	t.Helper()
	select {
	case s := <-f.subs:
		return s
	case <-time.After(wait):
		t.Fatal("timed out waiting for a subscription")
		return nil
	}
}

func newController(t *testing.T, repo Repository, feed Feed, opts Options) *Controller {
	t.Helper()
	c := New(repo, feed, opts, logger.NewNop())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// waitView blocks until a published view satisfies pred.
func waitView(t *testing.T, c *Controller, pred func(View) bool) View {
	t.Helper()
	ch, cancel := c.Watch()
	defer cancel()

	timeout := time.After(wait)
	for {
		select {
		case v, ok := <-ch:
			require.True(t, ok, "controller closed")
			if pred(v) {
				return v
			}
		case <-timeout:
			t.Fatalf("timed out waiting for view; last: %+v", c.Snapshot())
			return View{}
		}
	}
}

func ready(v View) bool { return v.Status == StatusReady }

func insert(b domain.Bookmark) domain.ChangeEvent {
	return domain.ChangeEvent{Kind: domain.EventInsert, New: &b}
}

func update(b domain.Bookmark) domain.ChangeEvent {
	return domain.ChangeEvent{Kind: domain.EventUpdate, New: &b}
}

func remove(b domain.Bookmark) domain.ChangeEvent {
	return domain.ChangeEvent{Kind: domain.EventDelete, Old: &b}
}
