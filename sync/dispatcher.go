package sync

import (
	gosync "sync"
)

// Dispatcher is the single serialization point for everything that
// mutates sync state. Server pushes and acks arrive off the transport's
// read goroutine, user writes and listener changes off application
// goroutines; all of them are funneled into one worker goroutine that
// executes operations strictly in submission order.
//
// Schedule never blocks, so event callbacks may schedule follow-up
// mutations: a re-entrant write lands in the queue and runs on the next
// turn, after the recomputation in flight has finished.
type Dispatcher struct {
	mu     gosync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

// NewDispatcher starts the worker goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

// Schedule enqueues an operation for the worker. Operations run in the
// order scheduled. After Close, operations are silently dropped.
func (d *Dispatcher) Schedule(op func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, op)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Call runs an operation on the worker and waits for it to finish. It
// must not be called from inside a scheduled operation or an event
// callback, since it would wait on the very turn it is running in.
// Event callbacks use Schedule instead.
func (d *Dispatcher) Call(op func()) {
	doneCh := make(chan struct{})
	d.Schedule(func() {
		op()
		close(doneCh)
	})
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return
	}
	select {
	case <-doneCh:
	case <-d.done:
	}
}

// Close stops the worker after draining already-scheduled operations.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		ops := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for _, op := range ops {
			op()
		}
		if closed {
			// Drain anything scheduled during the final batch.
			d.mu.Lock()
			remaining := d.queue
			d.queue = nil
			d.mu.Unlock()
			for _, op := range remaining {
				op()
			}
			return
		}
		<-d.wake
	}
}
