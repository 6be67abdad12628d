// Package jobcancel tracks cooperative cancellation of in-process jobs such
// as the glossary auto-translate loop. Entries live only in this process.
package jobcancel

import (
	"context"
	"sync"
	"time"

	"github.com/transflow/api/internal/logger"
)

// DefaultMaxAge is how long an entry survives before the purger drops it.
const DefaultMaxAge = time.Hour

// Status is a snapshot of one job entry.
type Status struct {
	JobID     string    `json:"jobId"`
	Canceled  bool      `json:"canceled"`
	StartedAt time.Time `json:"startedAt"`
}

type entry struct {
	canceled  bool
	createdAt time.Time
	cancels   []context.CancelFunc
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: map[string]*entry{}, now: time.Now}
}

// Start registers id as running. Starting an id again resets it.
func (r *Registry) Start(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[id]; ok {
		for _, c := range old.cancels {
			c()
		}
	}
	r.entries[id] = &entry{createdAt: r.now()}
}

// Cancel flags id as canceled and cancels every context bound to it.
// It returns false for unknown ids.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.canceled = true
	for _, c := range e.cancels {
		c()
	}
	e.cancels = nil
	return true
}

// IsCanceled reports whether id was canceled. Unknown ids are not canceled.
func (r *Registry) IsCanceled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return ok && e.canceled
}

// Get returns the status of id.
func (r *Registry) Get(id string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Status{JobID: id}, false
	}
	return Status{JobID: id, Canceled: e.canceled, StartedAt: e.createdAt}, true
}

// Bind derives a context that is canceled together with id. The returned
// func releases it. Binding an unknown id returns a plain child context.
func (r *Registry) Bind(parent context.Context, id string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	switch {
	case !ok:
	case e.canceled:
		cancel()
	default:
		e.cancels = append(e.cancels, cancel)
	}
	return ctx, cancel
}

// Clear removes id.
func (r *Registry) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		for _, c := range e.cancels {
			c()
		}
		delete(r.entries, id)
	}
}

// Purge drops entries older than maxAge and returns how many were removed.
func (r *Registry) Purge(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if e.createdAt.Before(cutoff) {
			for _, c := range e.cancels {
				c()
			}
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// RunPurger purges every interval until ctx is done.
func (r *Registry) RunPurger(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Purge(maxAge); n > 0 {
				logger.CtxDebug(ctx, "purged %d stale job entries", n)
			}
		}
	}
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
