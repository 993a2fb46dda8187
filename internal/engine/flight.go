package engine

import (
	"context"
	"sync"

	"example.com/aggregator/internal/domain"
)

// runGroup allows one pipeline run per key. Callers arriving while a run is in
// flight wait for its result. The run is detached from any single caller's
// context and is cancelled only when every waiting caller has given up.
type runGroup struct {
	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	done    chan struct{}
	stats   domain.AggregatedStats
	err     error
	waiters int
	cancel  context.CancelFunc
}

// do joins the in-flight run for key or starts fn as a new one.
func (g *runGroup) do(ctx context.Context, key string, fn func(context.Context) (domain.AggregatedStats, error)) (domain.AggregatedStats, error) {
	g.mu.Lock()
	if g.runs == nil {
		g.runs = make(map[string]*run)
	}
	r, ok := g.runs[key]
	if !ok {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		r = &run{done: make(chan struct{}), cancel: cancel}
		g.runs[key] = r
		go g.execute(runCtx, key, r, fn)
	}
	r.waiters++
	g.mu.Unlock()

	select {
	case <-r.done:
		return r.stats, r.err
	case <-ctx.Done():
	}

	g.mu.Lock()
	r.waiters--
	last := r.waiters == 0
	if last && g.runs[key] == r {
		// Later callers start afresh instead of joining a cancelled run.
		delete(g.runs, key)
	}
	g.mu.Unlock()
	if !last {
		return domain.AggregatedStats{}, ctx.Err()
	}

	// The last caller is gone: abandon the run and wait for it to unwind.
	r.cancel()
	<-r.done
	if r.err == nil {
		return r.stats, nil
	}
	return domain.AggregatedStats{}, r.err
}

func (g *runGroup) execute(ctx context.Context, key string, r *run, fn func(context.Context) (domain.AggregatedStats, error)) {
	defer r.cancel()
	r.stats, r.err = fn(ctx)

	g.mu.Lock()
	if g.runs[key] == r {
		delete(g.runs, key)
	}
	g.mu.Unlock()
	close(r.done)
}
