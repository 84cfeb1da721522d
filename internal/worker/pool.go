package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolStopped is returned when work is submitted after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

const (
	defaultQueueCap    = 64
	defaultMaxAttempts = 1
	maxDeadLetters     = 100
)

// Task represents a unit of work for the worker pool.
type Task interface {
	Process(ctx context.Context) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context) error

// Process calls f(ctx).
func (f TaskFunc) Process(ctx context.Context) error {
	return f(ctx)
}

// WorkerPool manages a fixed set of worker goroutines fed from a bounded
// queue. It is shared by every tenant so the total number of concurrent
// enrichment requests stays bounded.
type WorkerPool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	workers int

	mu      sync.RWMutex
	started bool
	stopped bool
	tasks   chan Task

	maxAttempts  int
	deadLetter   []error
	deadLetterMu sync.Mutex
	processed    int64
	failed       int64
}

// PoolStats holds monitoring information about the worker pool
type PoolStats struct {
	ActiveWorkers int
	QueueLength   int
	Processed     int64
	Failed        int64
	DeadLetters   int
}

// Option configures a WorkerPool.
type Option func(*WorkerPool)

// WithQueueCapacity sets the queue size.
func WithQueueCapacity(n int) Option {
	return func(p *WorkerPool) {
		if n > 0 {
			p.tasks = make(chan Task, n)
		}
	}
}

// WithMaxAttempts sets how many times a failing task is run before it is
// recorded as a dead letter.
func WithMaxAttempts(n int) Option {
	return func(p *WorkerPool) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// NewWorkerPool creates a new WorkerPool with the given number of workers
func NewWorkerPool(workers int, opts ...Option) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		ctx:         ctx,
		cancel:      cancel,
		workers:     workers,
		tasks:       make(chan Task, defaultQueueCap),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker goroutines
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
}

// Stop signals all workers to exit and waits for them to finish. Queued
// tasks are drained with a cancelled context.
func (p *WorkerPool) Stop() {
	// Cancel first so blocked SubmitWait callers release the read lock.
	p.cancel()
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	if !p.started {
		// Queued tasks still need draining so batch waiters return.
		p.started = true
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.workerLoop()
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit adds a task to the queue, returns false if the queue is full or
// the pool is stopped
func (p *WorkerPool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false // backpressure: queue is full
	}
}

// SubmitWait blocks until the task is queued, ctx is done or the pool stops.
func (p *WorkerPool) SubmitWait(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// batchTask carries its own retry loop and completion signal, so the pool
// runs it exactly once.
type batchTask struct {
	run func(poolCtx context.Context) error
}

func (b *batchTask) Process(ctx context.Context) error {
	return b.run(ctx)
}

// RunBatch runs tasks on the pool and waits for all of them. The returned
// slice holds each task's final error by index. Tasks that could not be
// queued get the submission error.
func (p *WorkerPool) RunBatch(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		i, task := i, task
		wg.Add(1)
		wrapped := &batchTask{run: func(poolCtx context.Context) error {
			defer wg.Done()
			if poolCtx.Err() != nil {
				errs[i] = ErrPoolStopped
				return errs[i]
			}
			errs[i] = p.attempt(ctx, task)
			return errs[i]
		}}
		if err := p.SubmitWait(ctx, wrapped); err != nil {
			errs[i] = err
			wg.Done()
		}
	}
	wg.Wait()
	return errs
}

// workerLoop is the main loop for each worker goroutine
func (p *WorkerPool) workerLoop() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.process(task)
	}
}

// attempt runs a task up to maxAttempts times, stopping early on success
// or when ctx is done.
func (p *WorkerPool) attempt(ctx context.Context, task Task) error {
	var err error
	for i := 0; i < p.maxAttempts; i++ {
		if err = task.Process(ctx); err == nil || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// process runs one queued task and records failures as dead letters.
func (p *WorkerPool) process(task Task) {
	var err error
	if bt, ok := task.(*batchTask); ok {
		err = bt.Process(p.ctx)
	} else {
		err = p.attempt(p.ctx, task)
	}

	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	p.processed++
	if err == nil {
		return
	}
	p.failed++
	p.deadLetter = append(p.deadLetter, err)
	if len(p.deadLetter) > maxDeadLetters {
		p.deadLetter = p.deadLetter[len(p.deadLetter)-maxDeadLetters:]
	}
}

// DeadLetterCount returns the number of retained failures
func (p *WorkerPool) DeadLetterCount() int {
	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	return len(p.deadLetter)
}

// DeadLetters returns a copy of the most recent task failures
func (p *WorkerPool) DeadLetters() []error {
	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	out := make([]error, len(p.deadLetter))
	copy(out, p.deadLetter)
	return out
}

// Workers returns the number of worker goroutines
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Stats returns current statistics about the worker pool
func (p *WorkerPool) Stats() PoolStats {
	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	return PoolStats{
		ActiveWorkers: p.workers,
		QueueLength:   len(p.tasks),
		Processed:     p.processed,
		Failed:        p.failed,
		DeadLetters:   len(p.deadLetter),
	}
}
