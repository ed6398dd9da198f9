// Package lock implements per-payment mutual exclusion.
package lock

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	holder     string
	acquiredAt time.Time
}

// Local is a process-local lock table. Entries older than ttl are treated as abandoned
// and may be taken over by the next caller.
type Local struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

func NewLocal(ttl time.Duration) *Local {
	return &Local{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (l *Local) WithClock(now func() time.Time) *Local {
	l.now = now
	return l
}

func (l *Local) Acquire(ctx context.Context, key, holder string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.entries[key]; ok && now.Sub(e.acquiredAt) <= l.ttl {
		return false, nil
	}
	l.entries[key] = entry{holder: holder, acquiredAt: now}
	return true, nil
}

// Release drops the lock only if holder still owns it.
func (l *Local) Release(ctx context.Context, key, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok && e.holder == holder {
		delete(l.entries, key)
	}
	return nil
}
