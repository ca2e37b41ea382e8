package server

import (
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/relay/internal/identity"
	"github.com/p-blackswan/relay/internal/metrics"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	// RPS is the steady-state requests per second allowed per caller.
	RPS int
	// Burst is the extra allowance granted for the first window after a
	// caller has been idle.
	Burst int
}

const (
	limiterWindow    = time.Second
	limiterIdleAfter = 10 * time.Second
	limiterMaxKeys   = 4096
)

// callerWindow is one caller's current fixed window.
type callerWindow struct {
	windowStart time.Time
	lastSeen    time.Time
	count       int
	limit       int
}

// identityLimiter throttles per caller identity rather than per address:
// locks are attributed to users, so the fair unit of throttling is the
// same identity the lock registry keys on. Anonymous traffic falls back
// to the client IP. Stale windows are pruned inline when the key table
// fills; there is no background goroutine to leak.
type identityLimiter struct {
	mu      sync.Mutex
	callers map[string]*callerWindow
	cfg     RateLimitConfig
	now     func() time.Time
}

func newIdentityLimiter(cfg RateLimitConfig) *identityLimiter {
	return &identityLimiter{
		callers: make(map[string]*callerWindow),
		cfg:     cfg,
		now:     time.Now,
	}
}

func (l *identityLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	w, ok := l.callers[key]
	switch {
	case !ok:
		if len(l.callers) >= limiterMaxKeys {
			l.prune(now)
		}
		w = &callerWindow{}
		l.callers[key] = w
		l.reset(w, now, true)
	case now.Sub(w.lastSeen) >= limiterIdleAfter:
		l.reset(w, now, true)
	case now.Sub(w.windowStart) >= limiterWindow:
		l.reset(w, now, false)
	}

	w.lastSeen = now
	w.count++
	return w.count <= w.limit
}

// reset opens a fresh window. A caller returning from idle may burst
// before settling back to the steady-state rate.
func (l *identityLimiter) reset(w *callerWindow, now time.Time, idle bool) {
	w.windowStart = now
	w.count = 0
	w.limit = l.cfg.RPS
	if idle {
		w.limit += l.cfg.Burst
	}
}

func (l *identityLimiter) prune(now time.Time) {
	for k, w := range l.callers {
		if now.Sub(w.lastSeen) >= limiterIdleAfter {
			delete(l.callers, k)
		}
	}
}

// NewRateLimitMiddleware returns a per-identity fixed-window rate limiter
// for the JSON surface. Probe endpoints are exempt.
func NewRateLimitMiddleware(cfg RateLimitConfig, m *metrics.Metrics) fiber.Handler {
	rl := newIdentityLimiter(cfg)

	return func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}

		caller := identity.FromHeaders(func(key string) string { return c.Get(key) })
		key := caller.UserID
		if key == identity.Anonymous {
			key = "ip:" + strings.TrimSpace(c.IP())
		}

		if !rl.allow(key) {
			if m != nil {
				m.RecordError("ratelimit", "throttled")
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate limited",
				"details": "Too many requests; slow down and retry",
			})
		}
		return c.Next()
	}
}
