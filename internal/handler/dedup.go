package handler

import (
	"sync"
	"time"
)

// dedupCache remembers recently seen frames of one connection
type dedupCache struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

func newDedupCache(window time.Duration) *dedupCache {
	return &dedupCache{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// duplicate records frame and reports whether identical bytes arrived within the window
func (d *dedupCache) duplicate(frame []byte) bool {
	if d.window <= 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}

	key := string(frame)
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}
