// Package ratelimit implements per-remote-address token-bucket limiting
// for the request dispatch pipeline, built on golang.org/x/time/rate.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter tracks one token bucket per remote address.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*entry
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns a Limiter allowing ratePerSecond sustained requests per
// address with burst headroom, evicting addresses idle for longer than
// idleTTL on each Allow call rather than from a separate goroutine.
func New(ratePerSecond float64, burst int, idleTTL time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]*entry),
		rate:    rate.Limit(ratePerSecond),
		burst:   burst,
		idleTTL: idleTTL,
	}
}

// Allow reports whether a request from addr may proceed now.
func (l *Limiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.buckets[addr]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[addr] = e
	}
	e.lastSeen = now

	if len(l.buckets) > 1 {
		for k, v := range l.buckets {
			if k != addr && now.Sub(v.lastSeen) > l.idleTTL {
				delete(l.buckets, k)
			}
		}
	}

	return e.limiter.Allow()
}

// RemoteAddr extracts the host portion of r.RemoteAddr, falling back to
// the raw value if it has no port.
func RemoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
