package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
)

// receiveBackoff is the pause after a failed receive before go-redis reconnects.
const receiveBackoff = 500 * time.Millisecond

// Subscription is a live change stream for one owner.
// Events arrive in publish order; the channel is closed after Close.
type Subscription struct {
	owner  string
	ps     *redis.PubSub
	events chan domain.ChangeEvent
	logger logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
	stopped   chan struct{}
}

func newSubscription(owner string, ps *redis.PubSub, buffer int, log logger.Logger) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		owner:   owner,
		ps:      ps,
		events:  make(chan domain.ChangeEvent, buffer),
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
}

// Events returns the stream of decoded change events.
func (s *Subscription) Events() <-chan domain.ChangeEvent {
	return s.events
}

// Close stops the stream. Safe to call more than once and from any goroutine.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.ps.Close()
		<-s.stopped
		s.logger.Debug("feed subscription closed")
	})
	return s.closeErr
}

func (s *Subscription) pump(early []*redis.Message) {
	defer close(s.stopped)
	defer close(s.events)

	for _, m := range early {
		if !s.handleMessage(m) {
			return
		}
	}

	ownerChannel := OwnerChannel(s.owner)
	for {
		msg, err := s.ps.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			s.logger.Warn("feed receive failed, reconnecting", logger.Error(err))
			select {
			case <-time.After(receiveBackoff):
				continue
			case <-s.ctx.Done():
				return
			}
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			// A confirmation after the initial handshake means go-redis
			// re-subscribed on a new connection: anything published in
			// between is gone.
			if m.Kind == "subscribe" && m.Channel == ownerChannel {
				s.logger.Info("feed resubscribed after reconnect")
				if !s.emit(domain.ChangeEvent{Kind: domain.EventResync}) {
					return
				}
			}
		case *redis.Message:
			if !s.handleMessage(m) {
				return
			}
		}
	}
}

// handleMessage decodes and forwards one message. It returns false once the
// subscription is closing.
func (s *Subscription) handleMessage(m *redis.Message) bool {
	if m.Channel == ResyncChannel {
		return s.emit(domain.ChangeEvent{Kind: domain.EventResync})
	}

	ev, err := Decode([]byte(m.Payload))
	if err != nil {
		s.logger.Warn("dropping undecodable feed message", logger.Error(err))
		return true
	}
	if ev.Kind != domain.EventResync && ev.OwnerID() != s.owner {
		s.logger.Warn("dropping feed message for another owner",
			logger.String("row_owner", ev.OwnerID()))
		return true
	}
	return s.emit(ev)
}

func (s *Subscription) emit(ev domain.ChangeEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}
