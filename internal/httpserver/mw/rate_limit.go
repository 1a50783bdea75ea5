package mw

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrSnakeDoc/shelf/internal/utils"
)

// RateLimitConfig configures a token bucket per client key.
type RateLimitConfig struct {
	Burst         int
	RefillPerMin  int
	MaxEntries    int // sweep early once this many keys are tracked
	SweepInterval time.Duration
	IdleTTL       time.Duration
	TrustProxy    bool // resolve IP from proxy headers when true
	// Key picks the bucket for a request. Defaults to the client IP.
	Key func(r *http.Request) string
	Now func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type visitors struct {
	cfg       RateLimitConfig
	every     rate.Limit
	mu        sync.Mutex
	byKey     map[string]*visitor
	lastSweep time.Time
}

func (v *visitors) take(key string, now time.Time) (remaining int, retryAfter time.Duration) {
	v.mu.Lock()
	if now.Sub(v.lastSweep) >= v.cfg.SweepInterval ||
		(v.cfg.MaxEntries > 0 && len(v.byKey) >= v.cfg.MaxEntries) {
		v.sweepLocked(now)
	}
	vis, ok := v.byKey[key]
	if !ok {
		vis = &visitor{limiter: rate.NewLimiter(v.every, v.cfg.Burst)}
		v.byKey[key] = vis
	}
	vis.lastSeen = now
	v.mu.Unlock()

	res := vis.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return 0, delay
	}
	return int(math.Floor(vis.limiter.TokensAt(now))), 0
}

func (v *visitors) sweepLocked(now time.Time) {
	for key, vis := range v.byKey {
		if now.Sub(vis.lastSeen) > v.cfg.IdleTTL {
			delete(v.byKey, key)
		}
	}
	v.lastSweep = now
}

// RateLimit rejects requests with 429 once a client's bucket is empty.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.RefillPerMin < 1 {
		cfg.RefillPerMin = 1
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Key == nil {
		trust := cfg.TrustProxy
		cfg.Key = func(r *http.Request) string { return utils.ClientIP(r, trust) }
	}

	v := &visitors{
		cfg:       cfg,
		every:     rate.Every(time.Minute / time.Duration(cfg.RefillPerMin)),
		byKey:     make(map[string]*visitor, 256),
		lastSweep: cfg.Now(),
	}
	limit := strconv.Itoa(cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, wait := v.take(cfg.Key(r), cfg.Now())
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
