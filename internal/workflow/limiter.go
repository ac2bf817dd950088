package workflow

import (
	"sync"
	"time"

	"github.com/helios/helios/internal/models"
	"golang.org/x/time/rate"
)

// RateLimiter applies a token bucket per webhook
type RateLimiter struct {
	limiters map[models.Webhook]*webhookLimiter
	mu       sync.RWMutex
}

type webhookLimiter struct {
	limiter   *rate.Limiter
	limit     int
	remaining int
	resetTime time.Time
	mu        sync.Mutex
}

// RateLimitStatus holds rate limit information for one webhook
type RateLimitStatus struct {
	Limit     int       // Requests allowed per minute
	Remaining int       // Requests remaining in the current minute
	Reset     time.Time // When the window resets
}

// NewRateLimiter creates an empty limiter. Unregistered webhooks are never throttled.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limiters: make(map[models.Webhook]*webhookLimiter),
	}
}

// Register sets the per-minute limit of a webhook
func (r *RateLimiter) Register(webhook models.Webhook, requestsPerMinute int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rps := float64(requestsPerMinute) / 60.0
	burst := max(1, requestsPerMinute/6) // ~10s worth

	r.limiters[webhook] = &webhookLimiter{
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		limit:     requestsPerMinute,
		remaining: requestsPerMinute,
		resetTime: time.Now().Add(time.Minute),
	}
}

// Allow reports whether a call may proceed now
func (r *RateLimiter) Allow(webhook models.Webhook) bool {
	l := r.get(webhook)
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Now().After(l.resetTime) {
		l.remaining = l.limit
		l.resetTime = time.Now().Add(time.Minute)
	}

	allowed := l.limiter.Allow()
	if allowed && l.remaining > 0 {
		l.remaining--
	}
	return allowed
}

// Status returns the current limit state of a webhook
func (r *RateLimiter) Status(webhook models.Webhook) *RateLimitStatus {
	l := r.get(webhook)
	if l == nil {
		return &RateLimitStatus{
			Limit:     -1,
			Remaining: -1,
			Reset:     time.Now().Add(time.Minute),
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return &RateLimitStatus{
		Limit:     l.limit,
		Remaining: l.remaining,
		Reset:     l.resetTime,
	}
}

func (r *RateLimiter) get(webhook models.Webhook) *webhookLimiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[webhook]
}
