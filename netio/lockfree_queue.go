// File: netio/lockfree_queue.go
// Package netio
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded MPMC ring queue using per-cell sequence numbers, after Dmitry
// Vyukov's pattern. Each worker's eventLoop owns one as its overflow
// submission ring for when its own inbox channel is momentarily full.

package netio

import "sync/atomic"

type lockFreeCell[T any] struct {
	sequence atomic.Uint64
	data     T
}

type lockFreeQueue[T any] struct {
	head  uint64
	_     [56]byte
	tail  uint64
	_     [56]byte
	mask  uint64
	cells []lockFreeCell[T]
}

func newLockFreeQueue[T any](capacity int) *lockFreeQueue[T] {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	q := &lockFreeQueue[T]{
		mask:  uint64(size - 1),
		cells: make([]lockFreeCell[T], size),
	}
	for i := range q.cells {
		q.cells[i].sequence.Store(uint64(i))
	}
	return q
}

func (q *lockFreeQueue[T]) enqueue(val T) bool {
	for {
		tail := atomic.LoadUint64(&q.tail)
		cell := &q.cells[tail&q.mask]
		seq := cell.sequence.Load()
		switch diff := int64(seq) - int64(tail); {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&q.tail, tail, tail+1) {
				cell.data = val
				cell.sequence.Store(tail + 1)
				return true
			}
		case diff < 0:
			return false
		}
	}
}

func (q *lockFreeQueue[T]) dequeue() (item T, ok bool) {
	for {
		head := atomic.LoadUint64(&q.head)
		cell := &q.cells[head&q.mask]
		seq := cell.sequence.Load()
		switch diff := int64(seq) - int64(head+1); {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&q.head, head, head+1) {
				item = cell.data
				cell.sequence.Store(head + q.mask + 1)
				return item, true
			}
		case diff < 0:
			var zero T
			return zero, false
		}
	}
}
