package hostcall

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultQPS is the outbound rate used for hosts without an explicit override.
	DefaultQPS = 4.0
	minQPS     = 0.1
	window     = time.Second
)

// RateLimiter admits at most maxPerSec calls in any rolling one-second window.
type RateLimiter struct {
	mu        sync.Mutex
	maxPerSec float64
	stamps    []time.Time
	now       func() time.Time
}

func newRateLimiter(maxPerSec float64) *RateLimiter {
	return &RateLimiter{maxPerSec: clampQPS(maxPerSec), now: time.Now}
}

func clampQPS(qps float64) float64 {
	if qps < minQPS {
		return minQPS
	}
	return qps
}

func (l *RateLimiter) MaxPerSecond() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxPerSec
}

func (l *RateLimiter) setMax(qps float64) {
	l.mu.Lock()
	l.maxPerSec = clampQPS(qps)
	l.mu.Unlock()
}

// prune drops timestamps that left the window. Caller holds l.mu.
func (l *RateLimiter) prune(now time.Time) {
	i := 0
	for i < len(l.stamps) && now.Sub(l.stamps[i]) >= window {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// Wait blocks until a slot is free in the window, then claims it.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if float64(len(l.stamps)) < l.maxPerSec {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}
		sleep := window - now.Sub(l.stamps[0]) + time.Millisecond
		l.mu.Unlock()

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Registry hands out one shared RateLimiter per host key.
type Registry struct {
	mu         sync.Mutex
	defaultQPS float64
	limiters   map[string]*RateLimiter
}

func NewRegistry(defaultQPS float64) *Registry {
	if defaultQPS <= 0 {
		defaultQPS = DefaultQPS
	}
	return &Registry{
		defaultQPS: clampQPS(defaultQPS),
		limiters:   make(map[string]*RateLimiter),
	}
}

// SetDefaultQPS changes the rate used by subsequent calls that carry no override.
func (r *Registry) SetDefaultQPS(qps float64) {
	r.mu.Lock()
	r.defaultQPS = clampQPS(qps)
	r.mu.Unlock()
}

func (r *Registry) DefaultQPS() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultQPS
}

// Get returns the limiter for hostKey, retuned to qps (or the default when qps <= 0).
// The window state survives a rate change.
func (r *Registry) Get(hostKey string, qps float64) *RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if qps <= 0 {
		qps = r.defaultQPS
	}
	lim, ok := r.limiters[hostKey]
	if !ok {
		lim = newRateLimiter(qps)
		r.limiters[hostKey] = lim
		return lim
	}
	if lim.MaxPerSecond() != clampQPS(qps) {
		lim.setMax(qps)
	}
	return lim
}
