package auth

import (
	"sync"
	"time"
)

// clientWindow tracks request timestamps for a single client
type clientWindow struct {
	requests []time.Time
	mutex    sync.Mutex
	lastSeen time.Time
}

// RateLimiter enforces a per-client sliding window over one minute
type RateLimiter struct {
	limit   int
	clients map[string]*clientWindow
	mutex   sync.RWMutex
}

// NewRateLimiter creates a limiter allowing limitPerMinute requests per
// client and starts its background cleanup loop
func NewRateLimiter(limitPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		limit:   limitPerMinute,
		clients: make(map[string]*clientWindow),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow records a request for the client and reports whether it fits the
// window
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mutex.Lock()
	client, exists := rl.clients[clientID]
	if !exists {
		client = &clientWindow{
			requests: make([]time.Time, 0),
			lastSeen: time.Now(),
		}
		rl.clients[clientID] = client
	}
	rl.mutex.Unlock()

	return client.allow(rl.limit)
}

func (cw *clientWindow) allow(limit int) bool {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	now := time.Now()
	cw.dropBefore(now.Add(-time.Minute))

	if len(cw.requests) >= limit {
		return false
	}

	cw.requests = append(cw.requests, now)
	cw.lastSeen = now

	return true
}

// dropBefore removes requests older than the window start
func (cw *clientWindow) dropBefore(windowStart time.Time) {
	valid := make([]time.Time, 0, len(cw.requests))
	for _, req := range cw.requests {
		if req.After(windowStart) {
			valid = append(valid, req)
		}
	}
	cw.requests = valid
}

// cleanup removes clients with no requests in the last 5 minutes
func (rl *RateLimiter) cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := time.Now().Add(-5 * time.Minute)

	for clientID, client := range rl.clients {
		client.mutex.Lock()
		if client.lastSeen.Before(cutoff) {
			delete(rl.clients, clientID)
		}
		client.mutex.Unlock()
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.cleanup()
	}
}

// Stats reports the limiter's current per-client request counts
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()

	clients := make([]map[string]interface{}, 0, len(rl.clients))
	for clientID, client := range rl.clients {
		client.mutex.Lock()
		clients = append(clients, map[string]interface{}{
			"client_id":     clientID,
			"request_count": len(client.requests),
			"last_request":  client.lastSeen,
		})
		client.mutex.Unlock()
	}

	return map[string]interface{}{
		"limit_per_minute": rl.limit,
		"total_clients":    len(rl.clients),
		"clients":          clients,
	}
}
