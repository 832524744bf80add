package viewer

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor is the limiter of one client address and when it was last used.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PerClientRateLimiter keeps one token bucket per client address. Idle
// entries are swept while handling requests, so no goroutine is needed.
type PerClientRateLimiter struct {
	lastCleanup     time.Time
	visitors        map[string]*visitor
	limit           rate.Limit
	burst           int
	cleanupInterval time.Duration
	maxIdleTime     time.Duration
	now             func() time.Time
	mu              sync.Mutex
}

// NewPerClientRateLimiter allows each client rps requests per second with
// bursts of up to burst requests.
func NewPerClientRateLimiter(rps float64, burst int) *PerClientRateLimiter {
	return &PerClientRateLimiter{
		limit:           rate.Limit(rps),
		burst:           burst,
		visitors:        make(map[string]*visitor),
		cleanupInterval: 5 * time.Minute,
		maxIdleTime:     10 * time.Minute,
		lastCleanup:     time.Now(),
		now:             time.Now,
	}
}

func (pcrl *PerClientRateLimiter) getVisitor(key string) *rate.Limiter {
	pcrl.mu.Lock()
	defer pcrl.mu.Unlock()

	now := pcrl.now()
	if now.Sub(pcrl.lastCleanup) > pcrl.cleanupInterval {
		for k, v := range pcrl.visitors {
			if now.Sub(v.lastSeen) > pcrl.maxIdleTime {
				delete(pcrl.visitors, k)
			}
		}
		pcrl.lastCleanup = now
	}

	v, exists := pcrl.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(pcrl.limit, pcrl.burst)}
		pcrl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Allow checks if a request from the given client should be allowed.
func (pcrl *PerClientRateLimiter) Allow(clientKey string) bool {
	return pcrl.getVisitor(clientKey).AllowN(pcrl.now(), 1)
}

// PerClientRateLimitMiddleware applies per-client rate limiting keyed by the
// client host, as resolved by middleware.RealIP.
func PerClientRateLimitMiddleware(limiter *PerClientRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.RemoteAddr
			if host, _, err := net.SplitHostPort(clientKey); err == nil {
				clientKey = host
			}
			if !limiter.Allow(clientKey) {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
