package redis

import (
	"context"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/shelf/internal/logger"
)

// ConnectOptions defines Redis connection retry behavior.
type ConnectOptions struct {
	Addr           string        // Redis address (ex: "localhost:6379")
	User           string        // Optional username
	Password       string        // Optional password
	RedisDB        int           // Redis DB number
	DialTimeout    time.Duration // Redis dial timeout
	ReadTimeout    time.Duration // Redis read timeout
	WriteTimeout   time.Duration // Redis write timeout
	PoolSize       int           // Redis connection pool size
	ConnectTimeout time.Duration // Total time allowed for connection attempts (ex: 30s)
	RetryInterval  time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	MaxWait        time.Duration // max wait between retries (ex: 10s)
	PingTimeout    time.Duration // timeout for each ping attempt (ex: 2s)
	WarnThreshold  int           // warn after this many attempts
}

// connectionLogger handles all Redis connection logging.
type connectionLogger struct {
	logger logger.Logger
}

func (cl *connectionLogger) logSuccess(addr string, attempts uint, elapsed time.Duration) {
	if attempts > 1 {
		cl.logger.Warn("connected to redis after retry",
			logger.String("addr", addr),
			logger.Int("attempts", int(attempts)),
			logger.Duration("elapsed", elapsed))
		return
	}
	cl.logger.Info("connected to redis", logger.String("addr", addr))
}

func (cl *connectionLogger) logRetry(addr string, attempt uint, remaining, nextRetry time.Duration, warnThreshold int, err error) {
	fields := []logger.Field{
		logger.String("addr", addr),
		logger.Int("attempt", int(attempt)),
		logger.Duration("next_retry_in", nextRetry),
		logger.Error(err),
	}
	switch {
	case remaining < 10*time.Second:
		cl.logger.Error("redis still down - retrying but timeout approaching",
			append(fields, logger.Duration("remaining", remaining))...)
	case int(attempt) <= warnThreshold:
		cl.logger.Warn("redis connection failed, retrying", fields...)
	default:
		cl.logger.Error("redis still unavailable - connection attempts failing", fields...)
	}
}

func (o ConnectOptions) validate() error {
	switch {
	case o.Addr == "":
		return fmt.Errorf("Addr is required")
	case o.ConnectTimeout <= 0:
		return fmt.Errorf("ConnectTimeout must be > 0, got %v", o.ConnectTimeout)
	case o.RetryInterval <= 0:
		return fmt.Errorf("RetryInterval must be > 0, got %v", o.RetryInterval)
	case o.MaxWait <= 0:
		return fmt.Errorf("MaxWait must be > 0, got %v", o.MaxWait)
	case o.PingTimeout <= 0:
		return fmt.Errorf("PingTimeout must be > 0, got %v", o.PingTimeout)
	case o.WarnThreshold < 0:
		return fmt.Errorf("WarnThreshold must be >= 0, got %d", o.WarnThreshold)
	}
	return nil
}

// New creates a Redis client and blocks until it answers PING, retrying with
// exponential backoff until ConnectTimeout (or ctx) runs out.
func New(ctx context.Context, opts ConnectOptions, log logger.Logger) (*redis.Client, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("redis options: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.User,
		Password:     opts.Password,
		DB:           opts.RedisDB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
	})

	if err := connectWithRetry(ctx, client, opts, &connectionLogger{logger: log}); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// connectWithRetry pings until success, ctx cancellation or ConnectTimeout.
func connectWithRetry(ctx context.Context, client *redis.Client, opts ConnectOptions, log *connectionLogger) error {
	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	log.logger.Info("connecting to redis",
		logger.String("addr", opts.Addr),
		logger.Duration("timeout", opts.ConnectTimeout))

	start := time.Now()
	var attempts uint

	err := retry.Do(
		func() error {
			attempts++
			pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
			defer pingCancel()
			return client.Ping(pingCtx).Err()
		},
		retry.Context(ctx),
		retry.Attempts(0), // until ctx expires
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(opts.RetryInterval),
		retry.MaxDelay(opts.MaxWait),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.logRetry(opts.Addr, n+1, timeLeft(ctx), backoff(opts.RetryInterval, opts.MaxWait, n), opts.WarnThreshold, err)
		}),
	)
	if err != nil {
		log.logger.Error("redis unavailable - failed to connect after timeout",
			logger.String("addr", opts.Addr),
			logger.Int("attempts", int(attempts)),
			logger.Duration("timeout", opts.ConnectTimeout),
			logger.Error(err))
		return fmt.Errorf("redis unavailable at %s after %d attempts (timeout: %v): %w",
			opts.Addr, attempts, opts.ConnectTimeout, err)
	}

	log.logSuccess(opts.Addr, attempts, time.Since(start))
	return nil
}

// backoff mirrors retry.BackOffDelay capped at max, for log output only.
func backoff(initial, max time.Duration, n uint) time.Duration {
	if n > 30 {
		return max
	}
	d := initial << n
	if d <= 0 || d > max {
		return max
	}
	return d
}

// timeLeft returns the remaining time before context deadline.
func timeLeft(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return time.Until(deadline)
}
