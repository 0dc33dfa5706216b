package service

import (
	"context"
	"sync"
)

// OutputGuard is exported for the service_test package.
type OutputGuard = outputGuard

// outputGuard admits one export per output file. Keys are absolute output
// paths. The zero value is ready to use, and keys may be claimed while
// WaitAll is blocked.
type outputGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
	idle chan struct{} // closed when held drains to empty; nil while idle
}

// TryLock claims key, or reports false when another export holds it.
func (g *outputGuard) TryLock(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return false
	}
	if g.held == nil {
		g.held = map[string]struct{}{}
	}
	if len(g.held) == 0 {
		g.idle = make(chan struct{})
	}
	g.held[key] = struct{}{}
	return true
}

// Unlock releases a key claimed by TryLock.
func (g *outputGuard) Unlock(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; !ok {
		return
	}
	delete(g.held, key)
	if len(g.held) == 0 && g.idle != nil {
		close(g.idle)
		g.idle = nil
	}
}

func (g *outputGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}

// WaitAll returns once nothing is held or ctx ends, whichever is first.
// Keys claimed after the guard went idle are waited for as well.
func (g *outputGuard) WaitAll(ctx context.Context) {
	for {
		g.mu.Lock()
		idle := g.idle
		g.mu.Unlock()
		if idle == nil {
			return
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return
		}
	}
}
