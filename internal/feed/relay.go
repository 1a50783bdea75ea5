package feed

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/postgres"
)

// Publisher is where the relay forwards row changes.
type Publisher interface {
	Publish(ctx context.Context, ownerID string, payload []byte) error
	PublishResync(ctx context.Context) error
}

// RowLoader reads the current version of a notified row. A nil row means it
// is gone.
type RowLoader interface {
	Get(ctx context.Context, ownerID, bookmarkID string) (*domain.Bookmark, error)
}

// RelayOptions tunes the LISTEN reconnect backoff.
type RelayOptions struct {
	RetryInterval time.Duration // initial wait before re-LISTEN, also the owed-resync retry period
	MaxWait       time.Duration // backoff cap
}

// Relay holds one PostgreSQL connection in LISTEN mode and republishes every
// bookmarks notification on the owner's Redis channel. Notifications carry
// only row keys; inserts and updates are completed from the row store.
type Relay struct {
	pool      *pgxpool.Pool
	rows      RowLoader
	publisher Publisher
	logger    logger.Logger
	opts      RelayOptions

	live       atomic.Bool
	forwarded  atomic.Uint64
	reconnects atomic.Uint64
	// resyncOwed is set when a change could not be forwarded.
	resyncOwed atomic.Bool
}

// NewRelay creates a relay. Call Run to start it.
func NewRelay(pool *pgxpool.Pool, rows RowLoader, publisher Publisher, log logger.Logger, opts RelayOptions) *Relay {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	if opts.MaxWait < opts.RetryInterval {
		opts.MaxWait = 30 * time.Second
	}
	return &Relay{
		pool:      pool,
		rows:      rows,
		publisher: publisher,
		logger:    log.With(logger.String("component", "relay")),
		opts:      opts,
	}
}

// Live reports whether the relay currently holds a listening connection.
func (r *Relay) Live() bool { return r.live.Load() }

// Forwarded returns the number of notifications republished so far.
func (r *Relay) Forwarded() uint64 { return r.forwarded.Load() }

// Reconnects returns how many times the LISTEN connection was re-established.
func (r *Relay) Reconnects() uint64 { return r.reconnects.Load() }

// Run blocks until ctx is done. Lost connections are re-established with
// exponential backoff, and every re-LISTEN is followed by a resync marker
// because notifications sent in between are lost.
func (r *Relay) Run(ctx context.Context) error {
	retryCtx, stopRetry := context.WithCancel(ctx)
	defer stopRetry()
	go r.retryResync(retryCtx)

	first := true
	for {
		conn, err := r.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay listen: %w", err)
		}

		r.live.Store(true)
		if first {
			r.logger.Info("relay listening", logger.String("channel", postgres.ChangeChannel))
		} else {
			r.reconnects.Add(1)
			r.logger.Warn("relay listening again after reconnect, requesting resync")
			r.resyncOwed.Store(true)
			r.flushResync(ctx)
		}
		first = false

		err = r.consume(ctx, conn)
		r.live.Store(false)
		// The connection may be mid-read; never hand it back to the pool.
		_ = conn.Conn().Close(context.Background())
		conn.Release()

		if ctx.Err() != nil {
			r.logger.Info("relay stopped")
			return nil
		}
		r.logger.Warn("relay connection lost", logger.Error(err))
	}
}

func (r *Relay) connect(ctx context.Context) (*pgxpool.Conn, error) {
	var conn *pgxpool.Conn
	err := retry.Do(
		func() error {
			c, err := r.pool.Acquire(ctx)
			if err != nil {
				return err
			}
			if _, err := c.Exec(ctx, "LISTEN "+pgx.Identifier{postgres.ChangeChannel}.Sanitize()); err != nil {
				c.Release()
				return err
			}
			conn = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0), // until ctx is done
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(r.opts.RetryInterval),
		retry.MaxDelay(r.opts.MaxWait),
		retry.MaxJitter(r.opts.RetryInterval/5),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("relay LISTEN failed, retrying",
				logger.Int("attempt", int(n+1)),
				logger.Error(err))
		}),
	)
	return conn, err
}

func (r *Relay) consume(ctx context.Context, conn *pgxpool.Conn) error {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		r.forward(ctx, []byte(n.Payload))
	}
}

func (r *Relay) forward(ctx context.Context, payload []byte) {
	ev, err := Decode(payload)
	if err != nil {
		r.logger.Warn("dropping malformed notification", logger.Error(err))
		return
	}
	owner := ev.OwnerID()
	if owner == "" {
		r.logger.Warn("dropping notification without owner", logger.String("type", string(ev.Kind)))
		return
	}

	if ev.Kind == domain.EventInsert || ev.Kind == domain.EventUpdate {
		row, err := r.rows.Get(ctx, owner, ev.New.ID)
		if err != nil {
			r.logger.Error("failed to read notified row",
				logger.String("owner_id", owner),
				logger.String("bookmark_id", ev.New.ID),
				logger.Error(err))
			r.resyncOwed.Store(true)
			return
		}
		if row == nil {
			// Deleted since; its DELETE notification follows.
			r.logger.Debug("notified row is gone", logger.String("bookmark_id", ev.New.ID))
			return
		}
		ev.New = row
		if payload, err = Encode(ev); err != nil {
			r.logger.Error("failed to encode change", logger.Error(err))
			r.resyncOwed.Store(true)
			return
		}
	}

	if err := r.publisher.Publish(ctx, owner, payload); err != nil {
		r.logger.Error("failed to republish notification",
			logger.String("owner_id", owner),
			logger.Error(err))
		r.resyncOwed.Store(true)
		return
	}
	r.forwarded.Add(1)
	r.flushResync(ctx)
}

// flushResync publishes a resync marker if one is owed.
func (r *Relay) flushResync(ctx context.Context) {
	if !r.resyncOwed.CompareAndSwap(true, false) {
		return
	}
	if err := r.publisher.PublishResync(ctx); err != nil {
		r.resyncOwed.Store(true)
		r.logger.Warn("failed to publish resync marker, will retry", logger.Error(err))
		return
	}
	r.logger.Info("published resync marker")
}

// retryResync keeps trying to deliver an owed marker while no notification
// arrives to piggyback on.
func (r *Relay) retryResync(ctx context.Context) {
	ticker := time.NewTicker(r.opts.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flushResync(ctx)
		}
	}
}
