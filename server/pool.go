package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolStopped is returned by Do after Stop.
var ErrPoolStopped = errors.New("run pool stopped")

// job is a unit of work executed on a pool goroutine.
type job struct {
	fn   func() (any, error)
	done chan jobResult
}

// jobResult holds the return value of a job.
type jobResult struct {
	value any
	err   error
}

// RunPool bounds the number of programs executing at once. Each job gets
// its own VM and Context, so workers share nothing.
type RunPool struct {
	jobs     chan job
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRunPool creates a pool and starts its worker goroutines.
func NewRunPool(workers int) *RunPool {
	if workers < 1 {
		workers = 1
	}
	p := &RunPool{
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.loop()
	}
	return p
}

// loop runs jobs until the pool is stopped.
func (p *RunPool) loop() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			j.done <- p.execute(j.fn)
		case <-p.quit:
			return
		}
	}
}

// execute runs a job, recovering from panics.
func (p *RunPool) execute(fn func() (any, error)) (result jobResult) {
	defer func() {
		if r := recover(); r != nil {
			result.err = fmt.Errorf("panic: %v", r)
		}
	}()
	result.value, result.err = fn()
	return result
}

// Do waits for a free worker, runs fn on it and returns its result.
// Waiting for a worker is abandoned when ctx is done; a job that has
// started runs to completion, so fn should watch ctx itself.
func (p *RunPool) Do(ctx context.Context, fn func() (any, error)) (any, error) {
	j := job{fn: fn, done: make(chan jobResult, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, ErrPoolStopped
	}
	r := <-j.done
	return r.value, r.err
}

// Stop shuts down the workers after their current jobs finish.
func (p *RunPool) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
}
