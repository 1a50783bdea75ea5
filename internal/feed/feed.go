package feed

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
)

// Feed hands out per-owner change subscriptions backed by Redis pub/sub.
type Feed struct {
	client *redis.Client
	logger logger.Logger
	buffer int
}

// New creates a feed. buffer is the per-subscription event channel size.
func New(client *redis.Client, log logger.Logger, buffer int) *Feed {
	if buffer < 1 {
		buffer = 64
	}
	return &Feed{
		client: client,
		logger: log.With(logger.String("component", "feed")),
		buffer: buffer,
	}
}

// Subscribe starts receiving changes for ownerID. It returns once Redis has
// confirmed both the owner channel and the resync channel.
func (f *Feed) Subscribe(ctx context.Context, ownerID string) (*Subscription, error) {
	if ownerID == "" {
		return nil, &domain.FeedError{Op: "subscribe", Err: fmt.Errorf("owner id is required")}
	}

	channels := []string{OwnerChannel(ownerID), ResyncChannel}
	ps := f.client.Subscribe(ctx, channels...)

	// Messages can land between the two confirmations; keep them.
	var early []*redis.Message
	for confirmed := 0; confirmed < len(channels); {
		msg, err := ps.Receive(ctx)
		if err != nil {
			_ = ps.Close()
			return nil, &domain.FeedError{Op: "subscribe", Err: err}
		}
		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				confirmed++
			}
		case *redis.Message:
			early = append(early, m)
		}
	}

	s := newSubscription(ownerID, ps, f.buffer, f.logger.With(logger.String("owner_id", ownerID)))
	go s.pump(early)

	f.logger.Debug("feed subscribed", logger.String("owner_id", ownerID))
	return s, nil
}

// Publish sends an already encoded change payload to ownerID's channel.
func (f *Feed) Publish(ctx context.Context, ownerID string, payload []byte) error {
	if err := f.client.Publish(ctx, OwnerChannel(ownerID), payload).Err(); err != nil {
		return &domain.FeedError{Op: "publish", Err: err}
	}
	return nil
}

// PublishEvent encodes and publishes ev to the owner of its row.
func (f *Feed) PublishEvent(ctx context.Context, ev domain.ChangeEvent) error {
	owner := ev.OwnerID()
	if owner == "" {
		return &domain.FeedError{Op: "publish", Err: fmt.Errorf("%s event without owner", ev.Kind)}
	}
	data, err := Encode(ev)
	if err != nil {
		return &domain.FeedError{Op: "publish", Err: err}
	}
	return f.Publish(ctx, owner, data)
}

// PublishResync tells every subscriber that events may have been dropped.
func (f *Feed) PublishResync(ctx context.Context) error {
	if err := f.client.Publish(ctx, ResyncChannel, resyncPayload()).Err(); err != nil {
		return &domain.FeedError{Op: "publish resync", Err: err}
	}
	return nil
}
