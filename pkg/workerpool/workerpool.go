// Package workerpool runs tool invocations on a fixed-size pool of worker
// goroutines and funnels their completions through a single FIFO channel
// read by one coordinator goroutine, grounded on the worker/completion
// split in the teacher's pkg/parallel/agents.go.
package workerpool

import (
	"context"
	"fmt"
	"sync"
)

// Task pairs a unit of work with the completion callback that consumes its
// result. Complete is invoked on the coordinator goroutine that drains
// Completions, never on a worker.
type Task struct {
	Work     func(ctx context.Context) (any, error)
	Complete func(result any, err error)
}

// Completion is a Task's outcome, queued for the coordinator to dispatch
// in FIFO order. Exit is set on the single sentinel value sent after Stop
// drains every in-flight worker.
type Completion struct {
	Complete func(result any, err error)
	Result   any
	Err      error
	Exit     bool
}

// Pool is a fixed-size worker pool with a single FIFO completion queue.
type Pool struct {
	size int

	tasks       chan Task
	completions chan Completion

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a pool with the given worker count. size <= 0 means one
// worker.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		size:        size,
		tasks:       make(chan Task, size*4),
		completions: make(chan Completion, size*4),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start spawns the worker goroutines. Call once before AddTask.
func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
}

func (p *Pool) runWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			res, err := p.runTask(t)
			select {
			case p.completions <- Completion{Complete: t.Complete, Result: res, Err: err}:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) runTask(t Task) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workerpool: task panicked: %v", r)
		}
	}()
	return t.Work(p.ctx)
}

// AddTask queues work for execution. Safe to call concurrently.
func (p *Pool) AddTask(t Task) {
	select {
	case p.tasks <- t:
	case <-p.ctx.Done():
	}
}

// Completions returns the FIFO channel of task completions. The
// coordinator is the pool's only reader; it must keep draining until it
// sees Completion.Exit or the channel closes.
func (p *Pool) Completions() <-chan Completion {
	return p.completions
}

// Stop closes the task queue, waits for in-flight workers to drain, and
// posts a sentinel completion (Exit == true) so the coordinator's read
// loop can break out cleanly.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.tasks)
		go func() {
			p.wg.Wait()
			p.completions <- Completion{Exit: true}
		}()
	})
}

// Abort performs an immediate shutdown on a fatal scheduler error or
// --stop-on-error: workers stop accepting new tasks and the completions
// channel is closed once in-flight work drains, with no exit sentinel.
// If Stop has already run, Abort only cancels the workers' context; the
// completions channel is not closed and Stop's sentinel is still posted.
func (p *Pool) Abort() {
	p.cancel()
	p.stopOnce.Do(func() {
		close(p.tasks)
		go func() {
			p.wg.Wait()
			close(p.completions)
		}()
	})
}
