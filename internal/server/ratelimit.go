package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedConversations caps the limiter map to prevent memory exhaustion
// from rotating conversation SIDs.
const maxTrackedConversations = 4096

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// conversationLimiter rate-limits webhook deliveries per conversation.
// Safe for concurrent use.
type conversationLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rpm     int
}

// newConversationLimiter builds a limiter allowing rpm events per minute per
// conversation, with a burst of rpm/4. rpm <= 0 disables limiting.
func newConversationLimiter(rpm int) *conversationLimiter {
	return &conversationLimiter{
		entries: make(map[string]*limiterEntry),
		rpm:     rpm,
	}
}

// Allow reports whether a delivery for the conversation may proceed.
func (l *conversationLimiter) Allow(conversationSID string) bool {
	if l.rpm <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if len(l.entries) >= maxTrackedConversations {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > time.Minute {
				delete(l.entries, k)
			}
		}
		// Hard eviction if pruning stale entries was not enough.
		for len(l.entries) >= maxTrackedConversations {
			for k := range l.entries {
				delete(l.entries, k)
				break
			}
		}
	}

	e, ok := l.entries[conversationSID]
	if !ok {
		burst := l.rpm / 4
		if burst < 1 {
			burst = 1
		}
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), burst)}
		l.entries[conversationSID] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}
