// File: internal/quota/waiter_queue.go
// Package quota
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package quota

import "github.com/eapache/queue"

// waiterQueue is a thin FIFO wrapper around eapache/queue.Queue, giving
// the quota's suspended-callback list amortized O(1) push/pop instead of
// a slice-shift.
type waiterQueue struct {
	q *queue.Queue
}

func newWaiterQueue() *waiterQueue {
	return &waiterQueue{q: queue.New()}
}

func (w *waiterQueue) push(cb func()) {
	w.q.Add(cb)
}

func (w *waiterQueue) pop() (func(), bool) {
	if w.q.Length() == 0 {
		return nil, false
	}
	v := w.q.Peek()
	w.q.Remove()
	cb, _ := v.(func())
	return cb, cb != nil
}

func (w *waiterQueue) length() int {
	return w.q.Length()
}
