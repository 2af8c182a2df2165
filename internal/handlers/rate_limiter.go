package handlers

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fixparts/api/internal/platform/httpx"
)

type rateLimiter interface {
	Allow(key string) bool
}

// clientBuckets keeps a token bucket per client key. A bucket holds limit tokens and refills one
// every window/limit, so a burst of limit requests is allowed and then limit per window.
type clientBuckets struct {
	every   rate.Limit
	burst   int
	idleTTL time.Duration
	clock   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientBuckets(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &clientBuckets{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idleTTL: window,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

func (c *clientBuckets) Allow(key string) bool {
	if c == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(c.every, c.burst)}
		c.buckets[key] = b
	}
	b.lastSeen = now
	c.sweepLocked(now)
	return b.limiter.AllowN(now, 1)
}

// sweepLocked drops buckets idle for a full window; a fresh bucket is full again anyway.
func (c *clientBuckets) sweepLocked(now time.Time) {
	if now.Sub(c.lastSweep) < c.idleTTL {
		return
	}
	c.lastSweep = now
	for key, b := range c.buckets {
		if now.Sub(b.lastSeen) >= c.idleTTL {
			delete(c.buckets, key)
		}
	}
}

// limitByClientIP rejects requests once the caller's address runs out of tokens. RealIP must run
// first so RemoteAddr carries the forwarded client address.
func limitByClientIP(limiter rateLimiter, retryAfter time.Duration) func(http.Handler) http.Handler {
	retrySeconds := strconv.Itoa(int(math.Ceil(retryAfter.Seconds())))
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", retrySeconds)
				}
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many checkout attempts", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
