// File: internal/quota/quota.go
// Package quota
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Quota is a counting semaphore with a soft threshold and a FIFO waiter
// queue. It gates admission for TCP accept and any other consumer that
// needs "at most N concurrent" semantics with fair wakeup of the oldest
// waiter: a small guarded struct wrapping github.com/eapache/queue rather
// than a hand-rolled linked list.
package quota

import "sync"

// Result reports the outcome of Attach.
type Result int

const (
	// Attached means a slot was claimed immediately, below the soft
	// threshold.
	Attached Result = iota
	// SoftQuota means a slot was claimed, but usage is at or above the
	// soft threshold: callers may want to log or throttle.
	SoftQuota
	// Suspended means no slot was available; cb will be invoked once one
	// frees, and the caller does not hold a slot.
	Suspended
)

// Quota gates admission to a bounded pool of slots.
// hard is the total capacity; soft is the threshold at or above which
// Attach still succeeds but reports SoftQuota.
type Quota struct {
	mu       sync.Mutex
	hard     int
	soft     int
	used     int
	waiters  *waiterQueue
}

// New constructs a Quota. soft must be <= hard; soft <= 0 (or soft > hard)
// sets the threshold to hard, so only the attach that takes the last slot
// reports SoftQuota.
func New(hard, soft int) *Quota {
	if soft <= 0 || soft > hard {
		soft = hard
	}
	return &Quota{hard: hard, soft: soft, waiters: newWaiterQueue()}
}

// Attach claims a slot, per attach_cb semantics:
//   - slots available below soft  -> Attached
//   - slots available at/above soft -> SoftQuota
//   - none available -> cb is enqueued FIFO and Suspended is returned;
//     cb fires later from Detach with the slot already transferred.
func (q *Quota) Attach(cb func()) Result {
	q.mu.Lock()
	if q.used < q.hard {
		q.used++
		soft := q.used >= q.soft
		q.mu.Unlock()
		if soft {
			return SoftQuota
		}
		return Attached
	}
	q.waiters.push(cb)
	q.mu.Unlock()
	return Suspended
}

// Detach releases one slot; every accepted connection releases exactly
// once. If a waiter is queued, the freed slot transfers directly to it —
// the slot is never returned to the pool first — and its callback runs
// synchronously on the caller's goroutine.
func (q *Quota) Detach() {
	q.mu.Lock()
	cb, ok := q.waiters.pop()
	if !ok {
		q.used--
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	cb()
}

// InUse reports the current number of attached slots, for Stats/debug
// probes.
func (q *Quota) InUse() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}

// Waiting reports the number of suspended callbacks.
func (q *Quota) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiters.length()
}
