// Package pace provides a minimum-interval limiter for upstream API calls.
package pace

import (
	"sync"
	"time"
)

// Pacer enforces a minimum interval between requests. Concurrent callers
// share the interval: each call is scheduled one interval after the previous
// caller's slot.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func New(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

// Wait blocks until the caller's slot arrives.
func (p *Pacer) Wait() {
	p.mu.Lock()
	now := time.Now()
	if wait := p.interval - now.Sub(p.last); wait > 0 {
		p.last = now.Add(wait)
		p.mu.Unlock()
		time.Sleep(wait)
		return
	}
	p.last = now
	p.mu.Unlock()
}
