package router

import (
	"sync"
	"time"
)

// RateLimiter implements per-identity rate limiting.
// ARCHITECTURAL DISCOVERY: Per-identity state tracking with periodic
// cleanup prevents memory growth from short-lived connections.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimit
}

// clientLimit tracks the minute window for a single identity.
type clientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimit),
	}
}

// Allow checks if the identity can send a message (100 per minute limit).
// Generous for chat and signaling; only a runaway client loop trips it.
func (rl *RateLimiter) Allow(username string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	limit, exists := rl.clients[username]
	if !exists {
		rl.clients[username] = &clientLimit{
			messageCount: 1,
			windowStart:  now,
		}
		return true
	}

	if now.Sub(limit.windowStart) >= time.Minute {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= 100 {
		return false
	}

	limit.messageCount++
	return true
}

// Forget drops the identity's window on disconnect.
func (rl *RateLimiter) Forget(username string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, username)
}

// Cleanup removes stale entries (call periodically).
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for username, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*time.Minute {
			delete(rl.clients, username)
		}
	}
}
