package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/ethpandaops/buildstatsoor/pkg/config"
)

const (
	sweepInterval = 5 * time.Minute
	bucketIdleTTL = 10 * time.Minute
)

// clientLimits hands out one token bucket per client address. A client may
// burst its whole per-minute allowance and then refills at the same rate.
type clientLimits struct {
	perMinute int
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	done chan struct{}
	once sync.Once
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newClientLimits(cfg config.RateLimitConfig) *clientLimits {
	return &clientLimits{
		perMinute: cfg.RequestsPerMinute,
		now:       time.Now,
		buckets:   make(map[string]*bucket, 16),
		done:      make(chan struct{}),
	}
}

// allow takes one token from addr's bucket.
func (c *clientLimits) allow(addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	b, ok := c.buckets[addr]
	if !ok {
		every := rate.Limit(float64(c.perMinute) / 60)
		b = &bucket{limiter: rate.NewLimiter(every, c.perMinute)}
		c.buckets[addr] = b
	}

	b.seen = now

	return b.limiter.AllowN(now, 1)
}

// retryAfter is the whole number of seconds until one token is back.
func (c *clientLimits) retryAfter() int {
	if c.perMinute < 1 {
		return 60
	}

	return (60 + c.perMinute - 1) / c.perMinute
}

// evictIdle drops buckets not used within bucketIdleTTL and returns how
// many are left.
func (c *clientLimits) evictIdle() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-bucketIdleTTL)

	for addr, b := range c.buckets {
		if b.seen.Before(cutoff) {
			delete(c.buckets, addr)
		}
	}

	return len(c.buckets)
}

func (c *clientLimits) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictIdle()
		}
	}
}

func (c *clientLimits) stop() {
	c.once.Do(func() { close(c.done) })
}

// rateLimit rejects table requests of clients that used up their bucket.
// It is attached with chi's With so the matched route pattern is known.
func (s *server) rateLimit(limits *clientLimits) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := clientAddr(r)
			if limits.allow(addr) {
				next.ServeHTTP(w, r)

				return
			}

			route := chi.RouteContext(r.Context()).RoutePattern()

			s.log.WithField("client", addr).
				WithField("route", route).
				Debug("Table request rate limited")

			if s.metrics != nil {
				s.metrics.RateLimited(route)
			}

			w.Header().Set("Retry-After", strconv.Itoa(limits.retryAfter()))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{"rate limit exceeded"})
		})
	}
}

// clientAddr is the request's client IP. chi's RealIP has already replaced
// RemoteAddr with any forwarded address, so only the port is stripped here.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
