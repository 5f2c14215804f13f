package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle rate-limits events per key, e.g. progress lines per log stream.
type Throttle struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewThrottle allows eventsPerSecond per key with the given burst.
func NewThrottle(eventsPerSecond float64, burst int) *Throttle {
	if burst <= 0 {
		burst = 1
	}

	return &Throttle{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  rate.Limit(eventsPerSecond),
		defaultBurst: burst,
	}
}

// Every returns a throttle allowing one event per interval per key.
func Every(interval time.Duration) *Throttle {
	t := NewThrottle(0, 1)
	t.defaultRate = rate.Every(interval)
	return t
}

// Wait blocks until an event for key is allowed
func (t *Throttle) Wait(ctx context.Context, key string) error {
	return t.getLimiter(key).Wait(ctx)
}

// Allow reports whether an event for key may happen now
func (t *Throttle) Allow(key string) bool {
	return t.getLimiter(key).Allow()
}

// getLimiter returns the rate limiter for a key
func (t *Throttle) getLimiter(key string) *rate.Limiter {
	t.mu.RLock()
	limiter, exists := t.limiters[key]
	t.mu.RUnlock()

	if exists {
		return limiter
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := t.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(t.defaultRate, t.defaultBurst)
	t.limiters[key] = limiter

	return limiter
}

// SetRate sets a custom rate for a specific key
func (t *Throttle) SetRate(key string, eventsPerSecond float64, burst int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if burst <= 0 {
		burst = t.defaultBurst
	}

	t.limiters[key] = rate.NewLimiter(rate.Limit(eventsPerSecond), burst)
}
