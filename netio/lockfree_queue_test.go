// File: netio/lockfree_queue_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netio

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockFreeQueueMPMC(t *testing.T) {
	q := newLockFreeQueue[int](1024)
	producers := 8
	consumers := 8
	itemsPerProducer := 5000
	totalItems := int64(producers * itemsPerProducer)

	var wg sync.WaitGroup
	var sentSum, receivedSum, receivedCount int64

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				val := pid*itemsPerProducer + i + 1
				for !q.enqueue(val) {
					runtime.Gosched()
				}
				atomic.AddInt64(&sentSum, int64(val))
			}
		}(p)
	}

	var consumerWg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		consumerWg.Add(1)
		go func() {
			defer consumerWg.Done()
			for {
				if val, ok := q.dequeue(); ok {
					atomic.AddInt64(&receivedSum, int64(val))
					if atomic.AddInt64(&receivedCount, 1) == totalItems {
						return
					}
				} else if atomic.LoadInt64(&receivedCount) >= totalItems {
					return
				} else {
					runtime.Gosched()
				}
			}
		}()
	}

	wg.Wait()

	done := make(chan struct{})
	go func() {
		consumerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if sentSum != receivedSum {
			t.Errorf("checksum mismatch: sent %d, received %d", sentSum, receivedSum)
		}
	case <-time.After(5 * time.Second):
		t.Errorf("timeout waiting for consumers: received %d/%d", atomic.LoadInt64(&receivedCount), totalItems)
	}
}

func TestLockFreeQueueEmptyDequeueFails(t *testing.T) {
	q := newLockFreeQueue[int](8)
	if _, ok := q.dequeue(); ok {
		t.Fatal("dequeue on empty queue must report ok=false")
	}
}

func TestLockFreeQueueFullEnqueueFails(t *testing.T) {
	q := newLockFreeQueue[int](4) // rounds up to a power of two
	for i := 0; ; i++ {
		if !q.enqueue(i) {
			break
		}
		if i > 1000 {
			t.Fatal("queue never reported full")
		}
	}
}
