// Package ratelimit guards the authentication endpoints with per-client
// token buckets so throttled callers are rejected before any cryptographic
// work happens.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds limiter settings.
type Config struct {
	// Capacity is the bucket size per client key.
	Capacity int

	// RefillInterval is how long a fully drained bucket takes to refill.
	RefillInterval time.Duration

	// CleanupInterval controls how often idle client entries are dropped.
	CleanupInterval time.Duration

	// MaxIdle is how long a client may be idle before its entry is dropped.
	MaxIdle time.Duration
}

// Limiter tracks one token bucket per client key.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	lastSeen map[string]time.Time

	limit rate.Limit
	burst int

	maxIdle  time.Duration
	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a limiter. Zero config fields fall back to a 30-unit bucket
// refilled over a minute, with idle entries dropped after 30 minutes.
func New(cfg Config) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 30
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 30 * time.Minute
	}

	l := &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		limit:    rate.Limit(float64(cfg.Capacity) / cfg.RefillInterval.Seconds()),
		burst:    cfg.Capacity,
		maxIdle:  cfg.MaxIdle,
		stop:     make(chan struct{}),
	}

	go l.cleanupWorker(cfg.CleanupInterval)

	return l
}

// Allow consumes cost units from the client's bucket and reports whether
// the request may proceed. Consumption never drives a bucket negative and
// refill never exceeds the configured capacity; both guarantees come from
// the underlying rate.Limiter.
func (l *Limiter) Allow(key string, cost int) bool {
	if cost <= 0 {
		cost = 1
	}
	return l.bucket(key).AllowN(time.Now(), cost)
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	l.lastSeen[key] = time.Now()
	return b
}

func (l *Limiter) cleanupWorker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, seen := range l.lastSeen {
		if now.Sub(seen) > l.maxIdle {
			delete(l.buckets, key)
			delete(l.lastSeen, key)
		}
	}
}

// Stop halts the cleanup worker.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
