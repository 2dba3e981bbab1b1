// File: transport/tcp/tcp_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hioload/netmgr/internal/quota"
	"github.com/hioload/netmgr/netio"
	"github.com/hioload/netmgr/transport/tcp"
)

func newTestManager(t *testing.T) *netio.Manager {
	t.Helper()
	cfg := netio.DefaultConfig()
	cfg.NWorkers = 2
	m := netio.NewManager(cfg)
	t.Cleanup(m.Destroy)
	return m
}

func TestListenAcceptRoundTrip(t *testing.T) {
	m := newTestManager(t)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	listener, err := tcp.Listen(m, "127.0.0.1:0", func(h *netio.Handle, err error) {
		if err != nil {
			t.Errorf("accept callback error: %v", err)
			return
		}
		accepted.Add(1)
		wg.Done()
	}, 128, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer tcp.StopListening(listener)

	addr := listener.LocalAddr()
	if addr == nil {
		t.Fatal("listener has no local address")
	}

	done := make(chan struct{})
	var connectErr error
	tcp.Connect(m, "", addr.String(), func(h *netio.Handle, err error) {
		connectErr = err
		close(done)
	}, 2*time.Second)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("connect timed out")
	}
	if connectErr != nil {
		t.Fatalf("connect failed: %v", connectErr)
	}

	waitTimeout(t, &wg, 3*time.Second)
	if accepted.Load() != 1 {
		t.Fatalf("want 1 accepted connection, got %d", accepted.Load())
	}
}

func TestQuotaGatesAccept(t *testing.T) {
	m := newTestManager(t)
	q := quota.New(1, 1)

	var acceptedCount atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)

	listener, err := tcp.Listen(m, "127.0.0.1:0", func(h *netio.Handle, err error) {
		if err == nil {
			acceptedCount.Add(1)
			// Closing the accepted connection releases its quota slot,
			// which hands it to the queued accept.
			tcp.Close(h.Socket())
			h.Detach()
		}
		wg.Done()
	}, 128, q)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer tcp.StopListening(listener)

	addr := listener.LocalAddr().String()

	var connectWG sync.WaitGroup
	connectWG.Add(2)
	for i := 0; i < 2; i++ {
		tcp.Connect(m, "", addr, func(h *netio.Handle, err error) {
			connectWG.Done()
		}, 2*time.Second)
	}
	waitTimeout(t, &connectWG, 3*time.Second)
	waitTimeout(t, &wg, 3*time.Second)

	if acceptedCount.Load() != 2 {
		t.Fatalf("want both connections eventually accepted through the FIFO waiter, got %d", acceptedCount.Load())
	}
}

func TestReadTimeoutGracePeriodWhenProcessing(t *testing.T) {
	m := newTestManager(t)

	var timeouts, reads int32
	accepted := make(chan struct{})

	listener, err := tcp.Listen(m, "127.0.0.1:0", func(h *netio.Handle, err error) {
		if err != nil {
			t.Errorf("accept callback error: %v", err)
			return
		}
		tcp.SetTimeout(h, 60*time.Millisecond)
		h.SetProcessing(true)
		tcp.Read(h, func(h *netio.Handle, err error, region []byte) {
			if err != nil {
				if kind, ok := netio.KindOf(err); ok && kind == netio.ErrTimedOut {
					atomic.AddInt32(&timeouts, 1)
				}
				return
			}
			atomic.AddInt32(&reads, 1)
			h.SetProcessing(false)
		})
		close(accepted)
	}, 128, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer tcp.StopListening(listener)

	addr := listener.LocalAddr().String()

	connectDone := make(chan struct{})
	var clientHandle *netio.Handle
	tcp.Connect(m, "", addr, func(h *netio.Handle, err error) {
		if err != nil {
			t.Errorf("connect failed: %v", err)
		}
		clientHandle = h
		close(connectDone)
	}, 2*time.Second)

	select {
	case <-connectDone:
	case <-time.After(3 * time.Second):
		t.Fatal("connect timed out")
	}
	select {
	case <-accepted:
	case <-time.After(3 * time.Second):
		t.Fatal("accept timed out")
	}

	// Several idle-timeout intervals pass while the consumer is marked
	// processing; the read loop must restart the timer instead of failing.
	time.Sleep(220 * time.Millisecond)
	if got := atomic.LoadInt32(&timeouts); got != 0 {
		t.Fatalf("want no timeout callbacks while processing, got %d", got)
	}

	sendDone := make(chan struct{})
	tcp.Send(clientHandle, []byte("hello"), func(h *netio.Handle, err error) {
		if err != nil {
			t.Errorf("send failed: %v", err)
		}
		close(sendDone)
	})
	select {
	case <-sendDone:
	case <-time.After(3 * time.Second):
		t.Fatal("send timed out")
	}

	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&reads) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&reads); got != 1 {
		t.Fatalf("want the deferred read delivered once processing cleared, got %d", got)
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for accept callbacks")
	}
}
