package internal

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiters hands out one token bucket per client address.
type clientLimiters struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	swept   time.Time
	now     func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiters(rps, burst int64, ttl time.Duration) *clientLimiters {
	if burst <= 0 {
		burst = rps
	}
	if burst < 1 {
		burst = 1
	}
	return &clientLimiters{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(rps),
		burst:   int(burst),
		ttl:     ttl,
		now:     time.Now,
	}
}

// NewRateLimitHandler rejects requests with 429 once a client exceeds rps.
// A non-positive rps disables limiting.
func NewRateLimitHandler(next http.Handler, rps int64, burst int64, ttl time.Duration) http.Handler {
	if rps <= 0 {
		return next
	}
	limiters := newClientLimiters(rps, burst, ttl)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiters.allow(clientIP(r)) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *clientLimiters) allow(key string) bool {
	now := c.now()
	c.mu.Lock()
	c.sweep(now)
	entry, ok := c.clients[key]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[key] = entry
	}
	entry.lastSeen = now
	c.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// sweep forgets clients idle for longer than ttl, at most once per ttl.
// Callers hold c.mu.
func (c *clientLimiters) sweep(now time.Time) {
	if c.ttl <= 0 || now.Sub(c.swept) < c.ttl {
		return
	}
	for key, entry := range c.clients {
		if now.Sub(entry.lastSeen) > c.ttl {
			delete(c.clients, key)
		}
	}
	c.swept = now
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-Ip, then the
// socket address.
func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
