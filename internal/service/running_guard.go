package service

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// ExportedRunningGuard is an exported alias so _test packages can test the guard.
type ExportedRunningGuard = runningJobsGuard

// ─────────────────────────────────────────────────────────────
// runningJobsGuard — one in-flight operation per key
// ─────────────────────────────────────────────────────────────

// runningJobsGuard rejects a second operation on a key that is already
// running and lets Close wait for everything in flight. Keys have the
// form "<session>:<op>".
type runningJobsGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// TryLock marks key as running. It returns false if key already runs.
func (g *runningJobsGuard) TryLock(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, ok := g.running[key]; ok {
		return false
	}
	g.running[key] = struct{}{}
	g.wg.Add(1)
	return true
}

// Unlock releases key. It must follow a successful TryLock.
func (g *runningJobsGuard) Unlock(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, key)
	g.wg.Done()
}

// Running lists the keys currently held, sorted.
func (g *runningJobsGuard) Running() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.running))
	for k := range g.running {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasPrefix reports whether any running key starts with prefix.
func (g *runningJobsGuard) HasPrefix(prefix string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k := range g.running {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// WaitAll blocks until every running key is released or ctx is done. It
// reports whether everything finished.
func (g *runningJobsGuard) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
