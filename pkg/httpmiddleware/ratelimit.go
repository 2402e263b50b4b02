package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures a sliding window limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per Window and key.
	Max int
	// Window is the length of the sliding window.
	Window time.Duration
	// KeyFunc picks the limiter key. Nil means RemoteIP, or ClientIP when
	// TrustForwarded is set.
	KeyFunc func(*http.Request) string
	// TrustForwarded keys on X-Forwarded-For and X-Real-IP. Only set it
	// behind a proxy that overwrites those headers.
	TrustForwarded bool
	// OnLimit renders the rejection. Nil means a plain 429.
	OnLimit http.Handler
}

// counter holds the request counts of the current and previous fixed
// windows for one key.
type counter struct {
	start time.Time
	curr  float64
	prev  float64
}

// Limiter approximates a sliding window by weighting the previous fixed
// window with its overlap.
type Limiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	counters map[string]*counter
}

// NewLimiter returns a Limiter for cfg.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = RemoteIP
		if cfg.TrustForwarded {
			cfg.KeyFunc = ClientIP
		}
	}
	if cfg.OnLimit == nil {
		cfg.OnLimit = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
		})
	}
	return &Limiter{cfg: cfg, counters: make(map[string]*counter)}
}

// Allow records a request for key at now. It returns how many requests are
// left and, when rejected, how long until the next one may pass.
func (l *Limiter) Allow(key string, now time.Time) (remaining int, retryAfter time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.cfg.Window
	start := now.Truncate(w)
	c, found := l.counters[key]
	switch {
	case !found:
		c = &counter{start: start}
		l.counters[key] = c
	case start.Sub(c.start) >= 2*w:
		c.start, c.prev, c.curr = start, 0, 0
	case start.Sub(c.start) >= w:
		c.start, c.prev, c.curr = start, c.curr, 0
	}

	overlap := 1 - float64(now.Sub(c.start))/float64(w)
	estimate := c.prev*overlap + c.curr
	if estimate >= float64(l.cfg.Max) {
		return 0, c.start.Add(w).Sub(now), false
	}
	c.curr++
	return max(0, int(float64(l.cfg.Max)-estimate-1)), 0, true
}

// Sweep drops keys idle for two windows.
func (l *Limiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.counters {
		if now.Sub(c.start) >= 2*l.cfg.Window {
			delete(l.counters, key)
		}
	}
}

// Run sweeps the limiter every two windows until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

// Middleware enforces the limit. Every response carries X-RateLimit-Limit
// and X-RateLimit-Remaining; rejections add Retry-After.
func (l *Limiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, retryAfter, ok := l.Allow(l.cfg.KeyFunc(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				l.cfg.OnLimit.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit returns the middleware of a new Limiter whose idle keys are
// swept until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := NewLimiter(cfg)
	go l.Run(ctx)
	return l.Middleware()
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address host. The headers are client controlled unless a trusted
// proxy sets them.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return RemoteIP(r)
}

// RemoteIP returns the host of the connection's remote address.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
