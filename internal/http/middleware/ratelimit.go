package middleware

import (
	"sync"
	"time"
)

type clientInfo struct {
	start time.Time
	count int
}

// localLimiter counts requests per identity in process memory.
type localLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientInfo
	now     func() time.Time
}

func newLocalLimiter() *localLimiter {
	return &localLimiter{clients: make(map[string]*clientInfo), now: time.Now}
}

func (l *localLimiter) allow(ident string, maxRequests int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	ci, ok := l.clients[ident]
	if !ok || now.Sub(ci.start) > window {
		l.clients[ident] = &clientInfo{start: now, count: 1}
		l.sweep(now, window)
		return true
	}
	ci.count++
	return ci.count <= maxRequests
}

// sweep drops expired windows so the map does not grow without bound.
func (l *localLimiter) sweep(now time.Time, window time.Duration) {
	if len(l.clients) < 1024 {
		return
	}
	for k, ci := range l.clients {
		if now.Sub(ci.start) > window {
			delete(l.clients, k)
		}
	}
}
