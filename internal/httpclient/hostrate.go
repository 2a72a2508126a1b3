package httpclient

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// HostRateLimiter paces outbound requests per host, separately from
// HostSemaphore's concurrency cap: the semaphore bounds how many requests to
// a host run at once, the rate limiter bounds how often new ones may start,
// so a portal that accepts a handful of concurrent connections but still
// rate-limits by request rate doesn't see a burst every time a batch starts.
type HostRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// GlobalHostRate is the shared per-host pacer. Default: 2 requests/second
// per host, burst of 4, permissive enough for a handful of datasets sharing
// one slow open-data portal without hammering it on every batch tick.
var GlobalHostRate = NewHostRateLimiter(2, 4)

func NewHostRateLimiter(requestsPerSecond float64, burst int) *HostRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &HostRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// Wait blocks until a token is available for host or ctx is done.
func (h *HostRateLimiter) Wait(ctx context.Context, host string) error {
	return h.limiterFor(host).Wait(ctx)
}

func (h *HostRateLimiter) limiterFor(host string) *rate.Limiter {
	if u, err := url.Parse(host); err == nil {
		host = u.Scheme + "://" + u.Host
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.rps, h.burst)
		h.limiters[host] = l
	}
	return l
}
