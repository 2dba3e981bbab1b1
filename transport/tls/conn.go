// File: transport/tls/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TLS socket state machine and data plane: drive loop, FIFO send queue,
// carrier ownership handoff on close.

package tls

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/eapache/queue"
	"github.com/hioload/netmgr/netio"
	"github.com/hioload/netmgr/transport/tcp"
)

// state is the per-TLS-socket data attached via Socket.SetData.
type state struct {
	mu          sync.Mutex
	tlsConn     *tls.Conn
	appSide     net.Conn
	carrier     *netio.Handle
	server      bool
	readyCB     netio.AcceptCallback
	sendQ       *queue.Queue
	sending     bool
	readStarted bool
}

func newTLSSocket(mgr *netio.Manager, carrier *netio.Handle, cfg *tls.Config, server bool, readyCB netio.AcceptCallback) *netio.Socket {
	carrierSocket := carrier.Socket()
	w := carrierSocket.Worker()

	kind := netio.KindTLSConnected
	s := mgr.NewSocket(w, kind)
	s.SetOuter(carrierSocket) // non-null through INIT/HANDSHAKE/IO
	s.SetState(netio.StateHandshaking)
	s.SetAddrs(carrierSocket.LocalAddr(), carrierSocket.RemoteAddr())

	sslSide, appSide := newMembio()
	var conn *tls.Conn
	if server {
		conn = tls.Server(sslSide, cfg)
	} else {
		conn = tls.Client(sslSide, cfg)
	}

	st := &state{
		tlsConn: conn,
		appSide: appSide,
		carrier: carrier,
		sendQ:   queue.New(),
		server:  server,
		readyCB: readyCB,
	}
	s.SetData(st)
	s.OnDestroy(func() {
		sslSide.Close()
		appSide.Close()
	})
	s.SetOnShutdown(func() {
		conn.Close()
		appSide.Close()
	})

	pumpCarrierToApp(s, st)
	pumpAppToCarrier(st)
	driveHandshake(s, st)
	return s
}

// pumpCarrierToApp is the network-facing half of do_bio: ciphertext
// arriving on the TCP carrier is copied into the app_bio side so
// crypto/tls's Read/Handshake can consume it. The copy runs on its own
// goroutine fed by a channel of four chunks; once that channel is full,
// the carrier's read callback blocks its worker loop until a chunk is
// taken.
func pumpCarrierToApp(s *netio.Socket, st *state) {
	ch := make(chan []byte, 4)
	go func() {
		for buf := range ch {
			if _, err := st.appSide.Write(buf); err != nil {
				return
			}
		}
	}()

	tcp.Read(st.carrier, func(h *netio.Handle, err error, region []byte) {
		if err != nil {
			close(ch)
			st.appSide.Close()
			return
		}
		cp := append([]byte(nil), region...)
		ch <- cp
	})
}

// pumpAppToCarrier is the other half of do_bio: ciphertext crypto/tls
// writes to the app_bio side is drained and handed to the carrier one
// send at a time, so exactly one carrier send is ever in flight.
func pumpAppToCarrier(st *state) {
	go func() {
		buf := make([]byte, 16*1024)
		for {
			n, err := st.appSide.Read(buf)
			if err != nil {
				return
			}
			payload := append([]byte(nil), buf[:n]...)
			done := make(chan struct{})
			tcp.Send(st.carrier, payload, func(h *netio.Handle, sendErr error) {
				close(done)
			})
			<-done
		}
	}()
}

// driveHandshake runs the blocking crypto/tls handshake off-worker, then
// marshals the state transition and readiness callback back onto the
// socket's owning worker, matching every other completion path in this
// package (completeSend, the plaintext read loop).
func driveHandshake(s *netio.Socket, st *state) {
	go func() {
		err := st.tlsConn.Handshake()
		s.Worker().Enqueue("tls-handshake-complete", func() {
			if err != nil {
				s.SetState(netio.StateError)
				if st.readyCB != nil {
					st.readyCB(nil, netio.NewError("tlshandshake", classifyTLSError(err), err))
				}
				return
			}
			s.SetState(netio.StateIO)
			handle := s.NewHandle(true)
			if st.readyCB != nil {
				st.readyCB(handle, nil)
			}
		})
	}()
}

func classifyTLSError(err error) netio.ErrorKind {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return netio.ErrTLSBadPeerCert
	}
	return netio.ErrTLS
}

// ConnectionState exposes the negotiated protocol/cipher for callers that
// need to check ALPN (transport/doh checks for "h2" before treating a TLS
// socket as a DoH carrier).
func ConnectionState(s *netio.Socket) (tls.ConnectionState, bool) {
	st, ok := s.Data().(*state)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return st.tlsConn.ConnectionState(), true
}

// RawConn exposes the underlying *tls.Conn (itself a net.Conn) for layers
// that want to drive their own protocol directly over the decrypted
// stream instead of the callback-based read/send surface (the HTTP/2 DoH
// transport hands this straight to golang.org/x/net/http2).
func RawConn(s *netio.Socket) (net.Conn, bool) {
	st, ok := s.Data().(*state)
	if !ok {
		return nil, false
	}
	return st.tlsConn, true
}

// Read implements read(handle, recv_cb) for a TLS socket; the plaintext
// read loop starts on first call (or on ResumeRead after a pause).
func Read(h *netio.Handle, cb netio.RecvCallback) {
	s := h.Socket()
	s.SetRecvCallback(cb)
	s.SetReadPaused(false)
	maybeStartRead(s)
}

func PauseRead(h *netio.Handle) { h.Socket().SetReadPaused(true) }

func ResumeRead(h *netio.Handle) {
	s := h.Socket()
	if !s.ReadPaused() {
		return
	}
	s.SetReadPaused(false)
	maybeStartRead(s)
}

func CancelRead(h *netio.Handle) {
	s := h.Socket()
	s.SetReadPaused(true)
	if cb := s.RecvCallback(); cb != nil {
		cb(h, netio.NewError("read", netio.ErrEOF, nil), nil)
	}
	h.Detach()
}

func maybeStartRead(s *netio.Socket) {
	st, ok := s.Data().(*state)
	if !ok {
		return
	}
	st.mu.Lock()
	already := st.readStarted
	st.readStarted = true
	st.mu.Unlock()
	if !already {
		startPlaintextRead(s, st)
	}
}

// startPlaintextRead is do_bio steps 3-4: drain decrypted bytes in chunks
// up to 64 KiB, dispatching each chunk to the consumer's recv callback on
// the socket's owning worker.
func startPlaintextRead(s *netio.Socket, st *state) {
	go func() {
		buf := make([]byte, 64*1024)
		for {
			if s.Closed() || s.ReadPaused() {
				return
			}
			n, err := st.tlsConn.Read(buf)
			chunk := append([]byte(nil), buf[:n]...)

			done := make(chan struct{})
			s.Worker().Enqueue("tls-read-complete", func() {
				defer close(done)
				cb := s.RecvCallback()
				if cb == nil {
					return
				}
				h := s.StaticHandle()
				if err != nil {
					if err == io.EOF {
						cb(h, netio.NewError("read", netio.ErrEOF, err), nil)
					} else {
						cb(h, netio.NewError("read", netio.ErrTLS, err), nil)
					}
					return
				}
				cb(h, nil, chunk)
			})
			<-done

			if err != nil {
				if err != io.EOF {
					s.SetState(netio.StateError)
				}
				return
			}
		}
	}()
}

// Send implements send(handle, region, send_cb): FIFO plaintext writes;
// a short write is continued with the remaining bytes, a zero-byte write
// counts as a failure, and a failed element fails every
// subsequent queued element with the same error. Each queued write is
// tracked as a pooled netio.Uvreq instead of a package-private struct.
func Send(h *netio.Handle, region []byte, cb netio.SendCallback) {
	s := h.Socket()
	st, ok := s.Data().(*state)
	if !ok {
		if cb != nil {
			cb(h, netio.NewError("send", netio.ErrNotConnected, nil))
		}
		return
	}

	req := netio.AcquireUvreq(h, region, cb)
	st.mu.Lock()
	st.sendQ.Add(req)
	trigger := !st.sending
	if trigger {
		st.sending = true
	}
	st.mu.Unlock()

	if trigger {
		go drainSendQueue(s, st)
	}
}

func drainSendQueue(s *netio.Socket, st *state) {
	for {
		st.mu.Lock()
		if st.sendQ.Length() == 0 {
			st.sending = false
			st.mu.Unlock()
			return
		}
		req := st.sendQ.Peek().(*netio.Uvreq)
		st.sendQ.Remove()
		st.mu.Unlock()

		err := writeAll(st.tlsConn, req.Region())
		completeSend(s, req, err)

		if err != nil {
			failRemainingSendQueue(s, st, err)
			return
		}
	}
}

func writeAll(conn *tls.Conn, region []byte) error {
	if len(region) == 0 {
		return io.ErrShortWrite
	}
	total := 0
	for total < len(region) {
		n, err := conn.Write(region[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		total += n
	}
	return nil
}

// completeSend marshals the Uvreq's completion back onto the socket's
// owning worker before releasing it.
func completeSend(s *netio.Socket, req *netio.Uvreq, err error) {
	s.Worker().Enqueue("tls-send-complete", func() {
		if err != nil {
			req.Complete(netio.NewError("send", netio.ErrTLS, err))
			return
		}
		req.Complete(nil)
	})
}

func failRemainingSendQueue(s *netio.Socket, st *state, cause error) {
	st.mu.Lock()
	var reqs []*netio.Uvreq
	for st.sendQ.Length() > 0 {
		it := st.sendQ.Peek().(*netio.Uvreq)
		st.sendQ.Remove()
		reqs = append(reqs, it)
	}
	st.sending = false
	st.mu.Unlock()

	for _, req := range reqs {
		completeSend(s, req, cause)
	}
}

// Close implements idempotent TLS close: pauses and detaches the
// carrier, drops the outer reference, and frees the TLS session.
func Close(s *netio.Socket) {
	st, ok := s.Data().(*state)
	outer := s.Outer()
	s.ClearOuter()
	if ok {
		tcp.PauseRead(st.carrier)
		st.carrier.Detach()
		st.tlsConn.Close()
		st.appSide.Close()
	}
	if outer != nil {
		tcp.Close(outer)
	}
	s.Close(nil)
}
