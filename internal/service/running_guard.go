package service

import (
	"context"
	"sort"
	"sync"
)

// ExportedJobGuard lets the _test package drive the guard directly.
type ExportedJobGuard = jobGuard

// ─────────────────────────────────────────────────────────────
// jobGuard: one background job per id
// ─────────────────────────────────────────────────────────────

// jobGuard tracks background jobs by id. Element persistence holds
// "persist:<scope>" while a scope's sync loop drains; collection refreshes
// hold "refresh:<bindingId>". Each held id owns a channel closed on Unlock.
type jobGuard struct {
	mu   sync.Mutex
	jobs map[string]chan struct{}
}

// TryLock marks id as running; false means it already is.
func (g *jobGuard) TryLock(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.jobs[id]; busy {
		return false
	}
	if g.jobs == nil {
		g.jobs = make(map[string]chan struct{})
	}
	g.jobs[id] = make(chan struct{})
	return true
}

// Unlock releases id. Releasing an id that is not held does nothing.
func (g *jobGuard) Unlock(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if done, ok := g.jobs[id]; ok {
		close(done)
		delete(g.jobs, id)
	}
}

func (g *jobGuard) Running(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.jobs[id]
	return ok
}

// Active lists the held ids in order.
func (g *jobGuard) Active() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.jobs))
	for id := range g.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WaitAll blocks until no job is held, including jobs started while
// waiting, or until ctx is done.
func (g *jobGuard) WaitAll(ctx context.Context) error {
	for {
		g.mu.Lock()
		var next chan struct{}
		for _, done := range g.jobs {
			next = done
			break
		}
		g.mu.Unlock()
		if next == nil {
			return nil
		}
		select {
		case <-next:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
