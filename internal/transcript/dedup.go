package transcript

import (
	"context"
	"sync"
	"time"
)

// Deduper suppresses redelivered final segments
type Deduper interface {
	// FirstSeen marks key and reports whether it was unseen within the window
	FirstSeen(ctx context.Context, key string) (bool, error)
}

// MemoryDeduper is a process-local Deduper with a fixed time window
type MemoryDeduper struct {
	mu        sync.Mutex
	ttl       time.Duration
	seen      map[string]time.Time
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryDeduper creates a deduper remembering keys for ttl
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryDeduper{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// FirstSeen implements Deduper
func (d *MemoryDeduper) FirstSeen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastSweep) > d.ttl {
		for k, exp := range d.seen {
			if now.After(exp) {
				delete(d.seen, k)
			}
		}
		d.lastSweep = now
	}

	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return true, nil
}
