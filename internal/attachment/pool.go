// Package attachment schedules attachment preparation on a shared worker
// pool without letting it take over every worker.
package attachment

import (
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool is a bounded set of workers shared by every background job of the
// process. At most Size functions run at once; the rest wait in a FIFO and
// start in the order they were handed to Go.
type Pool struct {
	g    errgroup.Group
	size int

	mu      sync.Mutex
	active  int
	pending []func()
}

// NewPool returns a pool of size workers; size <= 0 uses runtime.NumCPU().
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{size: size}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Go runs fn on a worker. It never blocks: when every worker is busy, fn
// is parked until a worker frees up.
func (p *Pool) Go(fn func()) {
	p.mu.Lock()
	if p.active == p.size {
		p.pending = append(p.pending, fn)
		p.mu.Unlock()
		return
	}
	p.active++
	p.mu.Unlock()

	p.g.Go(func() error {
		p.work(fn)
		return nil
	})
}

// work runs fn, then keeps taking parked functions until none is left.
func (p *Pool) work(fn func()) {
	for {
		fn()

		p.mu.Lock()
		if len(p.pending) == 0 {
			p.active--
			p.mu.Unlock()
			return
		}
		fn = p.pending[0]
		p.pending[0] = nil
		p.pending = p.pending[1:]
		p.mu.Unlock()
	}
}

// Wait blocks until every function handed to Go has returned.
func (p *Pool) Wait() {
	_ = p.g.Wait()
}
