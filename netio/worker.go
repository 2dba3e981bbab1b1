// File: netio/worker.go
// Package netio
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker owns one event loop. Every socket-touching operation for a
// socket pinned to this worker must run inside its loop goroutine.

package netio

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Worker is one I/O thread: a stable index and an event loop. Each
// socket's blocking-read goroutine runs independently of the others
// pinned to the same worker (Go has no non-blocking read to poll from
// the loop directly), so the singly-owned receive buffer is scoped per
// Socket rather than per Worker — see Socket.AcquireRecvBuffer.
type Worker struct {
	idx         int
	loop        *eventLoop
	socketCount atomic.Int32
	log         *logrus.Entry
}

func newWorker(idx int, cfg *Config, log *logrus.Entry) *Worker {
	return &Worker{
		idx:  idx,
		loop: newEventLoop(cfg.EventQueueCapacity/8+1, cfg.EventQueueCapacity),
		log:  log.WithField("worker", idx),
	}
}

// Index returns the worker's stable thread index in [0, nworkers).
func (w *Worker) Index() int { return w.idx }

func (w *Worker) start() { go w.loop.run() }
func (w *Worker) stop()  { w.loop.stop() }

// enqueue marshals fn to run on this worker's loop goroutine as a
// net-event of the given kind. Callers that already know they run on
// this worker's own loop goroutine may call fn directly instead, since
// in-worker callers may invoke the handler synchronously; enqueue is
// always correct, just possibly one hop slower, so this module takes the
// always-marshal path uniformly.
func (w *Worker) enqueue(kind string, fn func()) {
	w.loop.push(netEvent{kind: kind, run: fn})
}

// Enqueue is the exported form of enqueue, used by transport packages
// (tcp/tls/doh) to marshal socket-touching work onto this worker's loop
// goroutine.
func (w *Worker) Enqueue(kind string, fn func()) { w.enqueue(kind, fn) }

// SocketCount reports the number of live sockets pinned to this worker
// (maintained internally by newSocket/destroy), surfaced via
// Manager.Stats' "worker.N.sockets" probe.
func (w *Worker) SocketCount() int32 { return w.socketCount.Load() }
