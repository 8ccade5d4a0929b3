package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// LimitClass selects which budget a mounted middleware enforces. The
// decision endpoint takes sustained machine traffic and gets its own
// budget; administrative routes are low-volume and budgeted separately so
// a burst of checks from a host never locks that host out of policy
// management.
type LimitClass string

const (
	LimitDecision LimitClass = "decision"
	LimitAdmin    LimitClass = "admin"
)

const (
	sweepInterval = 5 * time.Minute
	idleEviction  = 10 * time.Minute
)

// RateLimits holds the steady-state requests per second per class. A
// class with rate <= 0 is unlimited. Burst is twice the rate.
type RateLimits struct {
	DecisionRPS int
	AdminRPS    int
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces token-bucket rate limits keyed by (class, client
// IP). Buckets idle past the eviction window are dropped by the sweep
// loop; Start runs that loop until the server's stop channel closes.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	limits  RateLimits
	clock   func() time.Time
}

// NewRateLimiter creates a RateLimiter with the given per-class limits.
func NewRateLimiter(limits RateLimits) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*clientBucket),
		limits:  limits,
		clock:   time.Now,
	}
}

// SetClock replaces the wall clock used for idle tracking.
func (rl *RateLimiter) SetClock(clock func() time.Time) {
	rl.clock = clock
}

// Middleware returns a Gin middleware enforcing the class's budget on the
// routes it is mounted on.
func (rl *RateLimiter) Middleware(class LimitClass) gin.HandlerFunc {
	rps := rl.limits.AdminRPS
	if class == LimitDecision {
		rps = rl.limits.DecisionRPS
	}
	return func(c *gin.Context) {
		if rps <= 0 {
			c.Next()
			return
		}
		if !rl.allow(string(class)+"|"+c.ClientIP(), rps) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(key string, rps int) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(rps), rps*2)}
		rl.buckets[key] = b
	}
	b.lastSeen = rl.clock()
	rl.mu.Unlock()

	return b.limiter.Allow()
}

// Start runs the idle-bucket sweep until stop is closed.
func (rl *RateLimiter) Start(stop <-chan struct{}) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Sweep()
		case <-stop:
			return
		}
	}
}

// Sweep evicts buckets that have been idle longer than the eviction
// window. Start calls it periodically.
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.clock().Add(-idleEviction)
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// ActiveBuckets reports the number of tracked (class, client) buckets.
func (rl *RateLimiter) ActiveBuckets() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
