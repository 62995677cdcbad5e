// File: dispatch/spawn.go
// Package dispatch implements handler execution strategies.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Spawner decides where a matched handler runs. Inline keeps the loop
// goroutine (poll-reactor model), Go starts a goroutine per message, Pool
// dispatches onto a fixed worker pool with panic recovery.

package dispatch

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed reports a submit on a closed pool.
var ErrPoolClosed = errors.New("pool is closed")

// Spawner runs a matched handler invocation.
type Spawner interface {
	Spawn(fn func())
}

// InlineSpawner runs handlers on the dispatching goroutine. Handlers must
// not issue nested synchronous calls on loops that cannot be re-entered.
type InlineSpawner struct{}

// Spawn runs fn immediately.
func (InlineSpawner) Spawn(fn func()) { fn() }

// GoSpawner runs every handler on its own goroutine.
type GoSpawner struct{}

// Spawn starts fn on a new goroutine.
func (GoSpawner) Spawn(fn func()) { go fn() }

// Pool manages a fixed set of worker goroutines consuming handler tasks
// from a shared queue.
type Pool struct {
	tasks      chan func()
	closeCh    chan struct{}
	closed     int32
	numWorkers int32
	wg         sync.WaitGroup

	// statistics
	submitted int64
	completed int64
}

// NewPool creates a pool with the given number of workers.
// If numWorkers <= 0, defaults to runtime.NumCPU().
func NewPool(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	p := &Pool{
		tasks:      make(chan func(), numWorkers*4),
		closeCh:    make(chan struct{}),
		numWorkers: int32(numWorkers),
	}
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Spawn implements Spawner. Tasks submitted after Close are dropped.
func (p *Pool) Spawn(fn func()) { _ = p.Submit(fn) }

// Submit enqueues a task, blocking when the queue is full so inbound
// pressure propagates back to the dispatcher.
func (p *Pool) Submit(fn func()) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrPoolClosed
	}
	atomic.AddInt64(&p.submitted, 1)
	select {
	case p.tasks <- fn:
		return nil
	case <-p.closeCh:
		return ErrPoolClosed
	}
}

// NumWorkers returns the worker count.
func (p *Pool) NumWorkers() int {
	return int(atomic.LoadInt32(&p.numWorkers))
}

// Close shuts the pool down and waits for workers to exit.
func (p *Pool) Close() {
	if atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		close(p.closeCh)
		p.wg.Wait()
	}
}

// Stats returns basic pool metrics.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"submitted_tasks": atomic.LoadInt64(&p.submitted),
		"completed_tasks": atomic.LoadInt64(&p.completed),
		"pending_tasks":   atomic.LoadInt64(&p.submitted) - atomic.LoadInt64(&p.completed),
		"num_workers":     int64(p.NumWorkers()),
	}
}

// run is the main loop for a worker.
func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case fn := <-p.tasks:
			p.execute(fn)
		case <-p.closeCh:
			return
		}
	}
}

// execute runs the task and updates statistics, recovering from panics.
func (p *Pool) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			// swallow panic to keep worker alive
		}
		atomic.AddInt64(&p.completed, 1)
	}()
	fn()
}
