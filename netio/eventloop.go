// File: netio/eventloop.go
// Package netio
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// eventLoop is a batched, backoff-driven poller for a single worker's
// inbound net-event queue. The payload is a netEvent carrying a closure
// rather than a bare {Fd,UserData} readiness notification, since a
// worker's queue here carries arbitrary cross-thread continuations
// (connect, listen, accept, send, close, cancel...), not just I/O
// readiness.

package netio

import (
	"sync/atomic"
	"time"
)

// netEvent is one unit of cross-thread work marshalled to a socket's
// owning worker.
type netEvent struct {
	kind string
	run  func()
}

// eventLoop drains its inbox in FIFO batches, backing off exponentially
// when idle. A bounded channel is the fast path; a lock-free overflow
// ring absorbs bursts so push() never silently drops a net-event when
// the channel is momentarily full.
type eventLoop struct {
	inbox     chan netEvent
	overflow  *lockFreeQueue[netEvent]
	batchSize int
	quitCh    chan struct{}
	doneCh    chan struct{}
	running   atomic.Bool
}

func newEventLoop(batchSize, capacity int) *eventLoop {
	if batchSize <= 0 {
		batchSize = 32
	}
	if capacity <= 0 {
		capacity = 1024
	}
	return &eventLoop{
		inbox:     make(chan netEvent, capacity),
		overflow:  newLockFreeQueue[netEvent](capacity),
		batchSize: batchSize,
		quitCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// push enqueues ev on the channel fast path, falling back to the overflow
// ring; false means both are full and the caller must retry.
func (el *eventLoop) push(ev netEvent) bool {
	select {
	case el.inbox <- ev:
		return true
	default:
		return el.overflow.enqueue(ev)
	}
}

// pending reports the approximate number of buffered events.
func (el *eventLoop) pending() int { return len(el.inbox) }

// run drains the inbox in batches until stop() closes quitCh.
func (el *eventLoop) run() {
	if !el.running.CompareAndSwap(false, true) {
		return
	}
	defer func() {
		close(el.doneCh)
		el.running.Store(false)
	}()

	batch := make([]netEvent, 0, el.batchSize)
	backoff := time.Nanosecond
	const maxBackoff = time.Millisecond

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		batch = batch[:0]
	drain:
		for i := 0; i < el.batchSize; i++ {
			select {
			case ev := <-el.inbox:
				batch = append(batch, ev)
			default:
				if ev, ok := el.overflow.dequeue(); ok {
					batch = append(batch, ev)
					continue
				}
				break drain
			}
		}

		if len(batch) == 0 {
			timer.Reset(backoff)
			select {
			case <-el.quitCh:
				if !timer.Stop() {
					<-timer.C
				}
				return
			case ev := <-el.inbox:
				if !timer.Stop() {
					<-timer.C
				}
				batch = append(batch, ev)
				backoff = time.Nanosecond
			case <-timer.C:
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
		}

		for _, ev := range batch {
			ev.run()
		}
		backoff = time.Nanosecond
	}
}

// stop signals run() to exit and blocks until it does.
func (el *eventLoop) stop() {
	select {
	case <-el.quitCh:
	default:
		close(el.quitCh)
	}
	if el.running.Load() {
		<-el.doneCh
	}
}
