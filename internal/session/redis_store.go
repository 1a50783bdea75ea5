package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefixSession is the prefix for session keys.
	KeyPrefixSession = "shelf:session:"
	// TransitionChannel carries session transitions between instances.
	TransitionChannel = "shelf:sessions"
)

// Key returns the Redis key for a session id.
func Key(sessionID string) string {
	return KeyPrefixSession + sessionID
}

// RedisStore keeps sessions as JSON values whose TTL is the remaining lifetime.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Create(ctx context.Context, s Session) error {
	if s.ID == "" || s.Identity.ID == "" {
		return fmt.Errorf("session: missing id or identity")
	}
	return r.save(ctx, s)
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.client.Get(ctx, Key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: failed to get: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Update(ctx context.Context, s Session) error {
	if s.ID == "" {
		return fmt.Errorf("session: missing id")
	}
	return r.save(ctx, s)
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, Key(sessionID)).Err(); err != nil {
		return fmt.Errorf("session: failed to delete: %w", err)
	}
	return nil
}

func (r *RedisStore) save(ctx context.Context, s Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		// Already expired: make sure nothing lingers.
		return r.Delete(ctx, s.ID)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}
	if err := r.client.Set(ctx, Key(s.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("session: failed to save: %w", err)
	}
	return nil
}
