// Package taskqueue implements a single-consumer work queue backed by a
// spin lock: TaskQueue in the reference implementation. It trades a
// little CPU for very low handoff latency between whatever goroutines
// enqueue work and the one goroutine draining it via Run.
package taskqueue

import (
	"runtime"
	"sync/atomic"
)

// waitLoopDuration mirrors WAIT_LOOP_DURATION: the spin count after
// which Lock yields the processor instead of busy-waiting further.
const waitLoopDuration = 0xffffff

// Task is one unit of work submitted to a Queue.
type Task func()

// Queue is a spin-locked FIFO drained by a single Run goroutine. Push
// may be called from any goroutine; PushFromTask is a fast path for
// tasks enqueuing further work from inside their own Run callback,
// where the caller already knows no other goroutine can be contending
// for the lock it would otherwise have taken.
type Queue struct {
	locked  atomic.Bool
	hasData atomic.Bool
	running atomic.Bool

	pending []Task
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{pending: make([]Task, 0, 200)}
}

func (q *Queue) lock() {
	cycles := 0
	for !q.locked.CompareAndSwap(false, true) {
		cycles++
		if cycles&waitLoopDuration == 0 {
			runtime.Gosched()
		}
	}
}

func (q *Queue) unlock() {
	q.locked.Store(false)
}

// Push enqueues task for the next Run drain cycle. Safe to call from
// any goroutine, including concurrently.
func (q *Queue) Push(task Task) {
	if task == nil {
		return
	}
	q.lock()
	q.pending = append(q.pending, task)
	q.unlock()
	q.hasData.Store(true)
}

// PushFromTask enqueues task without taking the lock. It is only safe
// to call from within a Task currently executing inside this Queue's
// Run loop while no other goroutine calls Push: Run itself does not
// touch the pending list while a task executes, but a concurrent Push
// appends to it too. Calling it from anywhere else is a data race.
func (q *Queue) PushFromTask(task Task) {
	if task == nil {
		return
	}
	q.pending = append(q.pending, task)
	q.hasData.Store(true)
}

// Empty reports whether the queue currently holds no unprocessed work.
func (q *Queue) Empty() bool { return !q.hasData.Load() }

// Running reports whether Run is currently draining the queue.
func (q *Queue) Running() bool { return q.running.Load() }

// Stop asks a running Run loop to return once its current drain cycle
// finishes.
func (q *Queue) Stop() { q.running.Store(false) }

// Run drains the queue until Stop is called, executing each task
// outside the lock so a long-running task never blocks a concurrent
// Push. onIdle, if non-nil, is invoked once per empty poll cycle before
// yielding the processor.
func (q *Queue) Run(onIdle func()) {
	q.running.Store(true)
	local := make([]Task, 0, 200)

	for q.running.Load() {
		for q.hasData.CompareAndSwap(true, false) {
			q.lock()
			q.pending, local = local, q.pending
			q.unlock()

			for _, task := range local {
				task()
			}
			local = local[:0]
		}
		if onIdle != nil {
			onIdle()
		}
		if !q.hasData.Load() {
			runtime.Gosched()
		}
	}
}

// FlushQueue synchronously drains and executes whatever is currently
// queued, regardless of Run's state. Intended for shutdown paths.
func (q *Queue) FlushQueue() {
	q.lock()
	pending := q.pending
	q.pending = nil
	q.unlock()
	q.hasData.Store(false)

	for _, task := range pending {
		task()
	}
}
