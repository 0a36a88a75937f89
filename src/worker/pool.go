package worker

import (
	"context"
	"errors"
	"log"
	"sync"
)

var errPanic = errors.New("worker: job panicked")

// Job is one unit of blocking work, typically a capture cycle.
type Job func(ctx context.Context) error

// ResultCallback is invoked on job completion (from a worker goroutine).
// The event loop should pass a closure that posts back into the event loop safely.
type ResultCallback func(err error)

// Pool is a fixed-size worker pool with a 1-slot input queue (strict back-pressure).
type Pool struct {
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type job struct {
	ctx context.Context
	run Job
	cb  ResultCallback
}

// New creates a worker pool. Size defaults to 1 when size<=0. Queue is 1 slot.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{jobs: make(chan job, 1)}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				err := p.runJob(j)
				if j.cb != nil {
					j.cb(err)
				}
			}
		}()
	}
}

func (p *Pool) runJob(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Worker: job panic: %v", r)
			err = errPanic
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.run(j.ctx)
}

// Submit enqueues a job if the single-slot queue is free. Returns false if dropped.
func (p *Pool) Submit(ctx context.Context, run Job, cb ResultCallback) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || run == nil {
		return false
	}
	select {
	case p.jobs <- job{ctx: ctx, run: run, cb: cb}:
		return true
	default:
		return false
	}
}

// Close stops the pool after draining current work.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
