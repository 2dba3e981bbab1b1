// File: transport/tcp/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Client connect and the per-handle data plane.

package tcp

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hioload/netmgr/netio"
)

// netTimeout guards the mutable per-socket read deadline set by
// SetTimeout; separate from state's own mutex since it is read from the
// blocking read goroutine while SetTimeout may be called concurrently
// from a worker loop.
type netTimeout struct {
	mu sync.Mutex
	d  time.Duration
}

func (t *netTimeout) get(fallback time.Duration) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.d > 0 {
		return t.d
	}
	return fallback
}

func (t *netTimeout) set(d time.Duration) {
	t.mu.Lock()
	t.d = d
	t.mu.Unlock()
}

// Connect implements connect_tcp: dial off-worker (Go's net.Dialer has no
// non-blocking variant), then marshal the outcome back onto the chosen
// worker's loop before invoking cb, so the consumer sees the same
// connected/connect_error split it would get from a blocking wait, but
// as a callback instead.
func Connect(mgr *netio.Manager, local, peer string, cb netio.AcceptCallback, timeout time.Duration) {
	if timeout <= 0 {
		timeout = mgr.Config().ConnectTimeout
	}
	w := mgr.PickWorker()
	s := mgr.NewSocket(w, netio.KindTCPConnected)
	s.SetState(netio.StateConnecting)

	go func() {
		d := net.Dialer{Timeout: timeout}
		if local != "" {
			if addr, err := net.ResolveTCPAddr("tcp", local); err == nil {
				d.LocalAddr = addr
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		conn, err := d.DialContext(ctx, "tcp", peer)
		w.Enqueue("connect", func() {
			if err != nil {
				s.SetState(netio.StateClosed)
				kind := netio.ErrFailure
				if ctx.Err() == context.DeadlineExceeded {
					kind = netio.ErrTimedOut
				}
				if cb != nil {
					cb(nil, netio.NewError("connect", kind, err))
				}
				return
			}
			s.SetAddrs(conn.LocalAddr(), conn.RemoteAddr())
			s.SetState(netio.StateConnected)
			s.SetData(&state{conn: conn})
			s.SetOnShutdown(func() { conn.Close() })
			handle := s.NewHandle(true)
			if cb != nil {
				cb(handle, nil)
			}
		})
	}()
}

// Read implements read(handle, recv_cb): installs the callback and starts
// the read loop if not already running.
func Read(h *netio.Handle, cb netio.RecvCallback) {
	s := h.Socket()
	s.SetRecvCallback(cb)
	s.SetReadPaused(false)
	s.Worker().Enqueue("start-read", func() { startReadLoop(s) })
}

// PauseRead/ResumeRead implement pause_read/resume_read (idempotent).
func PauseRead(h *netio.Handle) { h.Socket().SetReadPaused(true) }

func ResumeRead(h *netio.Handle) {
	s := h.Socket()
	if !s.ReadPaused() {
		return
	}
	s.SetReadPaused(false)
	s.Worker().Enqueue("resume-read", func() { startReadLoop(s) })
}

// CancelRead implements cancelread(handle): stops the carrier read, fails
// the read callback with EOF, and detaches the handle. Idempotent: the
// callback is cleared before it is invoked, ReadPaused latches true and
// startReadLoop checks it on every iteration, and Detach runs at most once.
func CancelRead(h *netio.Handle) {
	s := h.Socket()
	s.Worker().Enqueue("cancel", func() {
		s.SetReadPaused(true)
		if cb := s.RecvCallback(); cb != nil {
			s.SetRecvCallback(nil)
			cb(h, netio.NewError("read", netio.ErrEOF, nil), nil)
		}
		h.Detach()
	})
}

// SetTimeout implements set_timeout(handle, ms): overrides the idle
// timeout used by the read loop's deadline.
func SetTimeout(h *netio.Handle, d time.Duration) {
	st, ok := h.Socket().Data().(*state)
	if !ok {
		return
	}
	st.timeout.set(d)
}

// Send implements send(handle, region, send_cb): exactly one write is
// in flight at a time on the worker loop, so sends against one socket
// are naturally serialized in enqueue order. The pending write is tracked
// as a pooled netio.Uvreq rather than a bare closure capture.
//
// Config.TCPWriteHighWater bounds outstanding queued send bytes: once the
// backlog exceeds it, reads are paused so a peer that reads slower than
// this side writes can't grow the backlog without bound, and are resumed
// once the backlog drains back under the mark.
func Send(h *netio.Handle, region []byte, cb netio.SendCallback) {
	s := h.Socket()
	req := netio.AcquireUvreq(h, region, cb)

	st, ok := s.Data().(*state)
	if ok {
		applyWriteHighWater(s, st, int64(len(region)))
	}

	s.Worker().Enqueue("send", func() {
		if !ok || st.conn == nil {
			req.Complete(netio.NewError("send", netio.ErrNotConnected, nil))
			return
		}
		_, err := st.conn.Write(req.Region())
		releaseWriteHighWater(s, st, int64(len(req.Region())))
		if err != nil {
			req.Complete(netio.NewError("send", netio.ErrFailure, err))
			return
		}
		req.Complete(nil)
	})
}

func applyWriteHighWater(s *netio.Socket, st *state, n int64) {
	hw := int64(s.Manager().Config().TCPWriteHighWater)
	if hw <= 0 {
		return
	}
	pending := st.pendingSendBytes.Add(n)
	if pending > hw && st.pausedByHighWater.CompareAndSwap(false, true) {
		s.SetReadPaused(true)
	}
}

func releaseWriteHighWater(s *netio.Socket, st *state, n int64) {
	hw := int64(s.Manager().Config().TCPWriteHighWater)
	if hw <= 0 {
		return
	}
	pending := st.pendingSendBytes.Add(-n)
	if pending <= hw && st.pausedByHighWater.CompareAndSwap(true, false) {
		s.SetReadPaused(false)
		s.Worker().Enqueue("resume-read-highwater", func() { startReadLoop(s) })
	}
}

// RawConn exposes the underlying net.Conn for layers built directly atop
// TCP without going through the callback-based read/send surface (the
// HTTP/2 DoH transport hands this straight to golang.org/x/net/http2,
// which drives its own framing and flow control).
func RawConn(s *netio.Socket) (net.Conn, bool) {
	st, ok := s.Data().(*state)
	if !ok || st.conn == nil {
		return nil, false
	}
	return st.conn, true
}

// Close tears the connection down (idempotent via Socket.Close).
func Close(s *netio.Socket) {
	if st, ok := s.Data().(*state); ok && st.conn != nil {
		st.conn.Close()
	}
	s.Close(nil)
}

// startReadLoop drives blocking reads on their own goroutine (Go has no
// non-blocking read primitive to poll from the worker loop directly) but
// marshals every completion back onto the socket's worker before invoking
// the consumer callback, waiting for that dispatch to finish before
// issuing the next read so the socket's receive buffer stays singly
// owned for the duration of one read-plus-callback cycle.
func startReadLoop(s *netio.Socket) {
	st, ok := s.Data().(*state)
	if !ok || st.conn == nil {
		return
	}
	w := s.Worker()

	go func() {
		for {
			if s.Closed() || s.ReadPaused() {
				return
			}

			buf, ok := s.AcquireRecvBuffer()
			if !ok {
				return
			}

			idle := s.Manager().Config().IdleTimeout
			if s.Keepalive() {
				idle = s.Manager().Config().KeepaliveTimeout
			}
			idle = st.timeout.get(idle)
			if idle > 0 {
				st.conn.SetReadDeadline(time.Now().Add(idle))
			}

			n, readErr := st.conn.Read(buf)

			if readErr != nil {
				if ne, isNet := readErr.(net.Error); isNet && ne.Timeout() {
					if h := s.StaticHandle(); h != nil && h.Processing() {
						// The consumer is still working the last delivered
						// region; restart the timer instead of failing the
						// read out from under it.
						s.ReleaseRecvBuffer()
						continue
					}
				}
			}

			done := make(chan struct{})
			w.Enqueue("read-complete", func() {
				defer close(done)
				defer s.ReleaseRecvBuffer()
				cb := s.RecvCallback()
				if cb == nil {
					return
				}
				h := s.StaticHandle()
				switch {
				case readErr == nil:
					cb(h, nil, buf[:n])
				case readErr == io.EOF:
					cb(h, netio.NewError("read", netio.ErrEOF, readErr), nil)
				default:
					if ne, isNet := readErr.(net.Error); isNet && ne.Timeout() {
						cb(h, netio.NewError("read", netio.ErrTimedOut, readErr), nil)
					} else {
						cb(h, netio.NewError("read", netio.ErrConnectionReset, readErr), nil)
					}
				}
			})
			<-done

			if readErr != nil {
				return
			}
		}
	}()
}
