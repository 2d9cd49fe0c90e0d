package sharding

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Job is one unit of partition-ordered work.
type Job func(ctx context.Context)

// Pool fans jobs out across a fixed set of workers keyed by entity id.
// Jobs submitted with the same key run sequentially in submission order;
// jobs with keys on different workers run in parallel.
type Pool struct {
	queues []chan Job

	mu     sync.RWMutex
	closed bool
}

func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	queues := make([]chan Job, workers)
	for i := range queues {
		queues[i] = make(chan Job, queueSize)
	}
	return &Pool{queues: queues}
}

// Workers returns the number of partition workers.
func (p *Pool) Workers() int { return len(p.queues) }

// Pending returns the number of queued, not yet started jobs.
func (p *Pool) Pending() int {
	total := 0
	for _, q := range p.queues {
		total += len(q)
	}
	return total
}

// Submit enqueues job on the worker owning key. It blocks while that
// worker's queue is full.
func (p *Pool) Submit(ctx context.Context, key string, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	q := p.queues[WorkerFor(key, len(p.queues))]
	select {
	case q <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes jobs until Close is called and every queue is drained.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range p.queues {
		g.Go(func() error {
			for job := range q {
				job(gctx)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close stops accepting jobs. Already queued jobs still run.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
}
