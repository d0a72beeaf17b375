package dispatch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the optional, off-by-default per-client
// command-rate gate: abusive-client rate shaping, never gating the
// documented correctness scenarios — RequestsPerSecond 0 disables it
// entirely.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	CleanupInterval   time.Duration
}

// RateLimiter tracks golang.org/x/time/rate.Limiter instances, one per
// client, reaped by a background sweep instead of hand-rolled
// token-bucket/refill-on-read bookkeeping.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time

	stopCh chan struct{}
}

// NewRateLimiter builds a limiter set. If cfg.RequestsPerSecond <= 0 the
// limiter is disabled: Allow always returns true and no goroutine runs.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
	}
	if cfg.RequestsPerSecond > 0 && cfg.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

// Allow reports whether a command from clientID may proceed, consuming a
// token if so. Always true when the limiter is disabled (RequestsPerSecond
// <= 0), matching spec.md's default of "rate unlimited by default".
func (rl *RateLimiter) Allow(clientID string) bool {
	if rl.cfg.RequestsPerSecond <= 0 {
		return true
	}

	rl.mu.Lock()
	lim, ok := rl.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)
		rl.limiters[clientID] = lim
	}
	rl.lastSeen[clientID] = time.Now()
	rl.mu.Unlock()

	return lim.Allow()
}

// Forget drops a client's limiter state, e.g. on disconnect.
func (rl *RateLimiter) Forget(clientID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limiters, clientID)
	delete(rl.lastSeen, clientID)
}

// Close stops the cleanup goroutine, if one was started.
func (rl *RateLimiter) Close() {
	if rl.cfg.RequestsPerSecond > 0 && rl.cfg.CleanupInterval > 0 {
		close(rl.stopCh)
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for id, seen := range rl.lastSeen {
				if now.Sub(seen) > rl.cfg.CleanupInterval {
					delete(rl.limiters, id)
					delete(rl.lastSeen, id)
				}
			}
			rl.mu.Unlock()
		}
	}
}
