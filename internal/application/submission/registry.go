package submission

import (
	"context"
	"sync"
	"time"
)

// DefaultIdleTTL is how long an unused instance stays in the registry.
const DefaultIdleTTL = 30 * time.Minute

// Registry hands out one pipeline instance per key (user id, or anon:<ip>).
type Registry struct {
	deps Deps

	mu        sync.Mutex
	pipelines map[string]*Pipeline
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, pipelines: make(map[string]*Pipeline)}
}

// For returns the pipeline for key, creating it for owner on first use.
func (r *Registry) For(key, owner string) *Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pipelines[key]; ok {
		p.touch()
		return p
	}
	p := New(owner, r.deps)
	r.pipelines[key] = p
	return p
}

func (r *Registry) Lookup(key string) (*Pipeline, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pipelines[key]
	return p, ok
}

// Forget drops an idle pipeline. Busy pipelines are kept so their state stays visible.
func (r *Registry) Forget(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pipelines[key]
	if !ok || p.IsProcessing() {
		return false
	}
	delete(r.pipelines, key)
	return true
}

// Prune drops every instance that is not processing and was last used more
// than idle before now. It returns how many were removed.
func (r *Registry) Prune(now time.Time, idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for key, p := range r.pipelines {
		if p.IsProcessing() || now.Sub(p.LastUsed()) <= idle {
			continue
		}
		delete(r.pipelines, key)
		n++
	}
	return n
}

// Run prunes every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, every, idle time.Duration) {
	if idle <= 0 {
		idle = DefaultIdleTTL
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.Prune(now, idle)
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pipelines)
}
