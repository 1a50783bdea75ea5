package mirror

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrSnakeDoc/shelf/internal/config"
	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/scheduler"
)

// ErrClosed is returned by controller operations after Close.
var ErrClosed = errors.New("mirror: controller closed")

// Repository is the row store as seen by the controller.
type Repository interface {
	List(ctx context.Context, ownerID string) ([]domain.Bookmark, error)
	Create(ctx context.Context, ownerID string, draft domain.Draft) (domain.Bookmark, error)
	Delete(ctx context.Context, ownerID, bookmarkID string) error
}

// Subscription is a live, closable stream of change events for one owner.
type Subscription interface {
	Events() <-chan domain.ChangeEvent
	Close() error
}

// Feed opens change subscriptions.
type Feed interface {
	Subscribe(ctx context.Context, ownerID string) (Subscription, error)
}

// FeedFunc adapts a function to Feed.
type FeedFunc func(ctx context.Context, ownerID string) (Subscription, error)

func (f FeedFunc) Subscribe(ctx context.Context, ownerID string) (Subscription, error) {
	return f(ctx, ownerID)
}

// Status is the lifecycle state of a controller's list.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// View is an immutable snapshot of a controller, handed to presentation.
type View struct {
	OwnerID   string            `json:"owner_id,omitempty"`
	Status    Status            `json:"status"`
	Bookmarks []domain.Bookmark `json:"bookmarks"`
	Live      bool              `json:"live"`
	Reloading bool              `json:"reloading"`
	Err       error             `json:"-"`
	Error     string            `json:"error,omitempty"`
	Version   uint64            `json:"version"`
}

// Options tunes a controller.
type Options struct {
	ResyncPolicy   config.ResyncPolicy
	ReloadInterval time.Duration
	// StoreTimeout bounds loads started by the controller itself.
	StoreTimeout time.Duration
	// MaxPending caps events buffered while loading or failed. Past it the
	// buffer is dropped and a full reload follows the next load.
	MaxPending int
	Now        func() time.Time
}

const defaultMaxPending = 1024

// Controller keeps one owner's bookmark list in sync with the row store and
// the change feed. Every state change runs on a single goroutine draining a
// FIFO task queue; I/O runs in helper goroutines that post their results back.
type Controller struct {
	repo     Repository
	feed     Feed
	opts     Options
	logger   logger.Logger
	reloader *scheduler.Reloader

	ctx    context.Context
	cancel context.CancelFunc

	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	owner       string
	gen         uint64
	genCtx      context.Context
	genCancel   context.CancelFunc
	status      Status
	list        List
	pending     []domain.ChangeEvent
	replay      []domain.ChangeEvent
	reloading   bool
	reloadAgain bool
	sub         Subscription
	subscribing bool
	live        bool
	storeErr    error
	feedErr     error
	version     uint64
	stopping    bool

	// Published state, read by any goroutine.
	mu        sync.Mutex
	view      View
	watchers  map[uint64]chan View
	nextWatch uint64
	lastSeen  time.Time
	closed    bool
}

// New creates an idle controller and starts its loop.
func New(repo Repository, feed Feed, opts Options, log logger.Logger) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ResyncPolicy == "" {
		opts.ResyncPolicy = config.ResyncReload
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = defaultMaxPending
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		repo:     repo,
		feed:     feed,
		opts:     opts,
		logger:   log,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(chan func(), 64),
		done:     make(chan struct{}),
		status:   StatusIdle,
		watchers: make(map[uint64]chan View),
		lastSeen: opts.Now(),
	}
	c.view = View{Status: StatusIdle, Bookmarks: []domain.Bookmark{}}

	c.reloader = scheduler.NewReloader(c, log, opts.ReloadInterval)
	c.reloader.Start(ctx)

	go c.run()
	return c
}

// Activate switches the controller to ownerID: it starts the list load and the
// feed subscription concurrently. Activating the current owner is a no-op.
func (c *Controller) Activate(ownerID string) error {
	if ownerID == "" {
		return &domain.AuthError{Reason: "no owner"}
	}
	c.touch()
	return c.call(func() { c.activate(ownerID) })
}

// Deactivate closes the subscription and discards the list and any buffered events.
func (c *Controller) Deactivate() error {
	return c.call(c.deactivate)
}

// Reload re-runs the list load while keeping the current list live.
func (c *Controller) Reload() error {
	return c.call(c.reload)
}

// RequestReload schedules a reload in the background. It returns false if
// one is already pending.
func (c *Controller) RequestReload() bool {
	c.touch()
	return c.reloader.Trigger()
}

// Create validates the input, inserts the row and applies the returned row as
// an idempotent insert. Nothing touches the list before the store answers.
func (c *Controller) Create(ctx context.Context, rawURL, title string) (domain.Bookmark, error) {
	c.touch()

	draft, err := domain.NewDraft(rawURL, title)
	if err != nil {
		return domain.Bookmark{}, err
	}

	owner, gen, err := c.current()
	if err != nil {
		return domain.Bookmark{}, err
	}

	b, err := c.repo.Create(ctx, owner, draft)
	if err != nil {
		return domain.Bookmark{}, err
	}

	echo := domain.ChangeEvent{Kind: domain.EventInsert, New: &b}
	_ = c.call(func() {
		if c.stale(gen, owner) {
			return
		}
		c.apply(echo)
	})
	return b, nil
}

// Delete removes a bookmark in the row store. The list converges through the feed.
func (c *Controller) Delete(ctx context.Context, bookmarkID string) error {
	c.touch()

	owner, _, err := c.current()
	if err != nil {
		return err
	}
	return c.repo.Delete(ctx, owner, bookmarkID)
}

// Snapshot returns the latest published view.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Await waits until the controller is no longer loading and returns that view.
func (c *Controller) Await(ctx context.Context) (View, error) {
	c.touch()

	// Let every task queued before this call run first.
	if err := c.call(func() {}); err != nil {
		return c.Snapshot(), err
	}

	ch, cancel := c.Watch()
	defer cancel()

	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return c.Snapshot(), ErrClosed
			}
			if v.Status != StatusLoading {
				return v, nil
			}
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}
}

// Watch registers for view updates. The channel holds at most one view; a
// slow reader only ever sees the latest one. The returned func unregisters.
func (c *Controller) Watch() (<-chan View, func()) {
	ch := make(chan View, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = ch
	ch <- c.view
	c.lastSeen = c.opts.Now()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w, ok := c.watchers[id]; ok {
				delete(c.watchers, id)
				close(w)
			}
			c.lastSeen = c.opts.Now()
		})
	}
}

// Idle reports how long the controller has gone unused. Controllers with
// active watchers are never idle.
func (c *Controller) Idle(now time.Time) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.watchers) > 0 {
		return 0, false
	}
	return now.Sub(c.lastSeen), true
}

// Watchers returns the number of registered watchers.
func (c *Controller) Watchers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watchers)
}

// Close deactivates the controller and stops its loop. Safe to call more than once.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.reloader.Stop()
		c.post(func() {
			c.deactivate()
			c.stopping = true
		})
	})
	<-c.done
	c.cancel()
	return nil
}

func (c *Controller) run() {
	defer c.shutdown()
	for {
		fn := <-c.tasks
		fn()
		if c.stopping {
			return
		}
	}
}

func (c *Controller) shutdown() {
	close(c.done)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.watchers {
		delete(c.watchers, id)
		close(ch)
	}
}

// post enqueues fn. It returns false once the loop has stopped.
func (c *Controller) post(fn func()) bool {
	select {
	case c.tasks <- fn:
		return true
	case <-c.done:
		return false
	}
}

// call enqueues fn and waits for it to run.
func (c *Controller) call(fn func()) error {
	ran := make(chan struct{})
	if !c.post(func() {
		fn()
		close(ran)
	}) {
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-c.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (c *Controller) current() (string, uint64, error) {
	var (
		owner string
		gen   uint64
	)
	if err := c.call(func() {
		owner, gen = c.owner, c.gen
	}); err != nil {
		return "", 0, err
	}
	if owner == "" {
		return "", 0, &domain.AuthError{Reason: "no active owner"}
	}
	return owner, gen, nil
}

func (c *Controller) touch() {
	c.mu.Lock()
	c.lastSeen = c.opts.Now()
	c.mu.Unlock()
}

// ─────────────────────────────────────────────────────────────────
// Loop-only methods
// ─────────────────────────────────────────────────────────────────

func (c *Controller) stale(gen uint64, owner string) bool {
	return gen != c.gen || owner != c.owner
}

func (c *Controller) activate(ownerID string) {
	if c.owner == ownerID && c.status != StatusIdle {
		return
	}
	c.deactivate()

	c.owner = ownerID
	c.status = StatusLoading
	c.genCtx, c.genCancel = context.WithCancel(c.ctx)
	c.logger.Debug("activating bookmark view",
		logger.String("owner_id", ownerID),
		logger.Uint64("generation", c.gen))

	c.publish()
	c.startLoad()
	c.startSubscribe()
}

func (c *Controller) deactivate() {
	if c.sub != nil {
		if err := c.sub.Close(); err != nil {
			c.logger.Warn("failed to close change subscription", logger.Error(err))
		}
	}
	if c.genCancel != nil {
		c.genCancel()
	}
	wasActive := c.status != StatusIdle

	c.gen++
	c.owner = ""
	c.genCtx, c.genCancel = nil, nil
	c.status = StatusIdle
	c.list.Reset(nil)
	c.pending = nil
	c.replay = nil
	c.reloading = false
	c.reloadAgain = false
	c.sub = nil
	c.subscribing = false
	c.live = false
	c.storeErr = nil
	c.feedErr = nil

	if wasActive {
		c.publish()
	}
}

func (c *Controller) reload() {
	switch c.status {
	case StatusIdle:
		return
	case StatusLoading:
		c.reloadAgain = true
		return
	case StatusFailed:
		c.status = StatusLoading
		c.storeErr = nil
	case StatusReady:
		if c.reloading {
			c.reloadAgain = true
			return
		}
		c.reloading = true
		c.replay = nil
	}

	if !c.live && !c.subscribing {
		c.startSubscribe()
	}
	c.publish()
	c.startLoad()
}

func (c *Controller) startLoad() {
	gen, owner, ctx := c.gen, c.owner, c.genCtx
	timeout := c.opts.StoreTimeout

	go func() {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		rows, err := c.repo.List(ctx, owner)
		c.post(func() { c.loaded(gen, owner, rows, err) })
	}()
}

func (c *Controller) loaded(gen uint64, owner string, rows []domain.Bookmark, err error) {
	if c.stale(gen, owner) {
		c.logger.Debug("discarding stale list result",
			logger.String("owner_id", owner),
			logger.Uint64("generation", gen))
		return
	}

	if c.status == StatusReady {
		replay := c.replay
		c.reloading = false
		c.replay = nil
		if err != nil {
			c.storeErr = err
			c.logger.Warn("bookmark reload failed, keeping current list",
				logger.String("owner_id", owner),
				logger.Error(err))
		} else {
			c.list.Reset(rows)
			for _, ev := range replay {
				c.list.Apply(ev)
			}
			c.storeErr = nil
		}
	} else {
		if err != nil {
			c.status = StatusFailed
			c.storeErr = err
			c.list.Reset(nil)
			c.logger.Warn("initial bookmark load failed",
				logger.String("owner_id", owner),
				logger.Error(err))
		} else {
			c.list.Reset(rows)
			for _, ev := range c.pending {
				c.list.Apply(ev)
			}
			c.pending = nil
			c.status = StatusReady
			c.storeErr = nil
		}
	}

	c.publish()

	if c.reloadAgain {
		c.reloadAgain = false
		c.reload()
	}
}

func (c *Controller) startSubscribe() {
	gen, owner, ctx := c.gen, c.owner, c.genCtx
	c.subscribing = true

	go func() {
		sub, err := c.feed.Subscribe(ctx, owner)
		if !c.post(func() { c.subscribed(gen, owner, sub, err) }) && sub != nil {
			_ = sub.Close()
		}
	}()
}

func (c *Controller) subscribed(gen uint64, owner string, sub Subscription, err error) {
	if c.stale(gen, owner) {
		if sub != nil {
			_ = sub.Close()
		}
		return
	}
	c.subscribing = false

	if err != nil {
		var fe *domain.FeedError
		if !errors.As(err, &fe) {
			err = &domain.FeedError{Op: "subscribe", Err: err}
		}
		c.live = false
		c.feedErr = err
		c.logger.Warn("change feed subscription failed",
			logger.String("owner_id", owner),
			logger.Error(err))
		c.publish()
		return
	}

	c.sub = sub
	c.live = true
	c.feedErr = nil
	c.publish()

	go c.pump(gen, owner, sub)
}

func (c *Controller) pump(gen uint64, owner string, sub Subscription) {
	for ev := range sub.Events() {
		if !c.post(func() { c.received(gen, owner, ev) }) {
			return
		}
	}
	c.post(func() { c.ended(gen, owner, sub) })
}

func (c *Controller) received(gen uint64, owner string, ev domain.ChangeEvent) {
	if c.stale(gen, owner) {
		return
	}

	if ev.Kind == domain.EventResync {
		if c.opts.ResyncPolicy == config.ResyncIgnore {
			c.logger.Info("change feed resync ignored", logger.String("owner_id", owner))
			return
		}
		c.logger.Info("change feed resync, reloading", logger.String("owner_id", owner))
		c.reload()
		return
	}

	c.apply(ev)
}

// apply routes a change through the buffers or straight into the list.
func (c *Controller) apply(ev domain.ChangeEvent) {
	switch c.status {
	case StatusIdle:
		return
	case StatusLoading, StatusFailed:
		if len(c.pending) >= c.opts.MaxPending {
			c.logger.Warn("pending change buffer full, dropping it for a full reload",
				logger.String("owner_id", c.owner),
				logger.Int("dropped", len(c.pending)))
			c.pending = nil
			c.reloadAgain = true
		}
		c.pending = append(c.pending, ev)
		return
	}

	if c.reloading {
		c.replay = append(c.replay, ev)
	}
	if c.list.Apply(ev) {
		c.publish()
	}
}

func (c *Controller) ended(gen uint64, owner string, sub Subscription) {
	if c.stale(gen, owner) || c.sub != sub {
		return
	}
	c.sub = nil
	c.live = false
	c.feedErr = &domain.FeedError{Op: "receive", Err: errors.New("subscription ended")}
	c.logger.Warn("change feed subscription ended", logger.String("owner_id", owner))
	c.publish()
}

func (c *Controller) publish() {
	c.version++
	v := View{
		OwnerID:   c.owner,
		Status:    c.status,
		Bookmarks: c.list.Items(),
		Live:      c.live,
		Reloading: c.reloading,
		Version:   c.version,
	}
	switch {
	case c.storeErr != nil:
		v.Err = c.storeErr
	case c.feedErr != nil:
		v.Err = c.feedErr
	}
	if v.Err != nil {
		v.Error = v.Err.Error()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = v
	for _, ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
