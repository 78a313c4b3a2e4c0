// Package pool runs shader compilation jobs on a fixed set of background
// workers so that file-change handling and engine callers never block on
// the compiler.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
)

// ErrClosed is returned by Submit after Shutdown has begun. Callers map
// this to their own pool-exhausted error.
var ErrClosed = errors.New("pool: shut down")

// Pool is a fixed-size pool of worker goroutines.
//
// Each worker owns a queue and steals from its siblings when its own is
// empty, which keeps workers busy when one path's compilations are much
// slower than another's. All queues share one lock and one condition
// variable, so an idle worker always sees work queued anywhere in the
// pool. Every submitted job runs exactly once; a panicking job is
// recovered and logged, and its worker keeps serving.
//
// Pool is safe for concurrent use.
type Pool struct {
	workers int
	logger  *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queues  [][]func()
	next    int
	closing bool

	wg sync.WaitGroup
}

// New creates a pool with the given number of workers and starts them.
// If workers <= 0, GOMAXPROCS is used. The logger may be nil.
func New(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.New(discardHandler{})
	}

	p := &Pool{
		workers: workers,
		logger:  logger,
		queues:  make([][]func(), workers),
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run(i)
	}
	return p
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Submit queues job for execution by exactly one worker and never
// blocks; queues grow as needed. Returns ErrClosed once Shutdown has
// begun; the job is not run in that case.
func (p *Pool) Submit(job func()) error {
	if job == nil {
		return ErrClosed
	}

	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return ErrClosed
	}
	p.queues[p.next] = append(p.queues[p.next], job)
	p.next = (p.next + 1) % p.workers
	p.mu.Unlock()

	p.cond.Signal()
	return nil
}

// Shutdown stops accepting new jobs, lets every queued and in-flight job
// finish, and returns once all workers have exited.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()

	p.cond.Broadcast()
	p.wg.Wait()
}

// run is the main loop for one worker.
func (p *Pool) run(id int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		job := p.take(id)
		for job == nil && !p.closing {
			p.cond.Wait()
			job = p.take(id)
		}
		p.mu.Unlock()

		// closing and every queue empty
		if job == nil {
			return
		}
		p.exec(job)
	}
}

// take pops a job from the worker's own queue, stealing the tail of a
// sibling queue when it is empty. Caller holds p.mu. Returns nil when
// every queue is empty.
func (p *Pool) take(id int) func() {
	if q := p.queues[id]; len(q) > 0 {
		job := q[0]
		p.queues[id] = q[1:]
		return job
	}
	for i := range p.queues {
		if i == id {
			continue
		}
		if q := p.queues[i]; len(q) > 0 {
			job := q[len(q)-1]
			p.queues[i] = q[:len(q)-1]
			return job
		}
	}
	return nil
}

// exec runs one job, recovering a panic so the worker survives.
func (p *Pool) exec(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("compile job panicked", "panic", r)
		}
	}()
	job()
}

// discardHandler silently drops all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }
