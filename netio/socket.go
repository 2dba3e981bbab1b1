// File: netio/socket.go
// Package netio
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket lifecycle and the flag/state model. The many independent atomic
// booleans of the original design are folded into one enumerated state
// word plus a small set of orthogonal booleans.

package netio

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Kind distinguishes the socket variants this module produces.
type Kind int

const (
	KindTCPListener Kind = iota
	KindTCPConnected
	KindTLSListener
	KindTLSConnected
	KindHTTPListener
	KindHTTPSocket
)

func (k Kind) String() string {
	switch k {
	case KindTCPListener:
		return "tcp-listener"
	case KindTCPConnected:
		return "tcp-connected"
	case KindTLSListener:
		return "tls-listener"
	case KindTLSConnected:
		return "tls-connected"
	case KindHTTPListener:
		return "http-listener"
	case KindHTTPSocket:
		return "http-socket"
	default:
		return "unknown"
	}
}

// State is the socket's position in its lifecycle state machine:
//
//	(init) -> listening  -> (stopping) -> closed
//	(init) -> connecting -> connected  -> closing -> closed
type State uint32

const (
	StateInit State = iota
	StateListening
	StateStoppingListen
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
	// StateHandshaking and StateIO extend the base lifecycle for overlay
	// sockets (TLS, HTTP/2) whose own sub-state-machine doesn't fit the
	// plain listen/connect shape: INIT -> HANDSHAKE -> IO ->
	// (CLOSING -> CLOSED | ERROR). StateConnecting/StateConnected double
	// as INIT/handshake-complete, StateHandshaking as HANDSHAKE, StateIO
	// as IO, and StateError as the terminal ERROR outcome.
	StateHandshaking
	StateIO
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateListening:
		return "listening"
	case StateStoppingListen:
		return "stopping-listen"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateHandshaking:
		return "handshaking"
	case StateIO:
		return "io"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// RecvCallback delivers a read outcome to the consumer. err is nil on
// success, ErrEOF on peer close, or another *Error. On success the
// region must be consumed synchronously — it is backed by the socket's
// own shared receive buffer.
type RecvCallback func(h *Handle, err error, region []byte)

// SendCallback fires at-most-once after the payload has been handed to
// the carrier for transmission (not confirmed on the wire).
type SendCallback func(h *Handle, err error)

// AcceptCallback delivers a newly accepted connection.
type AcceptCallback func(h *Handle, err error)

// Socket is the durable identity of an endpoint. All fields touched
// after construction are either atomic or only ever mutated on the
// owning worker, except mu-guarded address/timer bookkeeping which
// off-worker callers (Stats, tests) may also read.
type Socket struct {
	id     uint64
	kind   Kind
	mgr    *Manager
	worker *Worker

	state    atomic.Uint32
	refcount atomic.Int32
	closed   atomic.Bool

	readPaused  atomic.Bool
	accepting   atomic.Bool
	listenError atomic.Bool
	keepalive   atomic.Bool

	mu        sync.Mutex
	localAddr net.Addr
	peerAddr  net.Addr

	// server is the listener that produced this socket via accept; nil for
	// listeners and client-initiated connections.
	server *Socket
	// children holds a listener's per-worker replicas or accepted sockets
	// awaiting close, guarded by mu.
	children []*Socket

	// outer is the carrier socket for TLS/HTTP overlays.
	outer *Socket

	recvCB   RecvCallback
	acceptCB AcceptCallback

	staticHandle *Handle

	// recv is this socket's own receive buffer: exclusively owned by a
	// single in-flight read at a time. Scoped per socket rather than per
	// worker because a Go worker's sockets each run an independent
	// blocking-read goroutine and can have overlapping in-flight reads,
	// unlike a single-threaded cooperative loop where only one read is
	// ever outstanding per worker at a time.
	recv *recvBuffer

	// data holds the transport-layer-specific state (a *tcp.conn wrapper,
	// a *tls.conn state machine, a *doh.session): a single extensible slot,
	// narrowed to one value since each socket carries exactly one such
	// overlay at a time.
	data any

	closeOnce sync.Once
	onDestroy func()
	// onShutdown is set by the transport layer that constructed this
	// socket to forcibly close its underlying resource (net.Conn,
	// tls.Conn, net.Listener) as part of Shutdown, unblocking whatever
	// goroutine is parked in a blocking read/accept on it.
	onShutdown func()

	log *logrus.Entry
}

// ID returns the socket's process-unique identifier.
func (s *Socket) ID() uint64 { return s.id }

// Manager returns the owning network manager.
func (s *Socket) Manager() *Manager { return s.mgr }

// SetData attaches transport-layer state to the socket.
func (s *Socket) SetData(v any) {
	s.mu.Lock()
	s.data = v
	s.mu.Unlock()
}

// Data returns the previously attached transport-layer state, if any.
func (s *Socket) Data() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// SetAddrs records the local/peer addresses once known.
func (s *Socket) SetAddrs(local, peer net.Addr) { s.setAddrs(local, peer) }

// Ref bumps the reference count; returns the new count.
func (s *Socket) Ref() int32 { return s.ref() }

// Unref releases one reference, destroying the socket once the count
// reaches zero and it is closed.
func (s *Socket) Unref() { s.unref() }

// Close begins idempotent teardown.
func (s *Socket) Close(cause error) { s.close(cause) }

// SetState forces the state word directly; used by transport layers
// driving their own sub-state-machines (e.g. TLS's INIT/HANDSHAKE/IO)
// that don't fit the base lifecycle exactly.
func (s *Socket) SetState(st State) { s.setState(st) }

// TransitionState performs a compare-and-swap on the state word, for
// idempotent transitions in e.g. the TLS wrapper's own state machine.
func (s *Socket) TransitionState(from, to State) bool { return s.casState(from, to) }

// SetServer records the listener that produced this socket via accept.
func (s *Socket) SetServer(server *Socket) {
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()
	if server != nil {
		server.addChild(s)
	}
}

// Server returns the listener that produced this socket, if any.
func (s *Socket) Server() *Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server
}

// SetOuter records the carrier socket for a TLS/HTTP overlay.
func (s *Socket) SetOuter(outer *Socket) {
	s.mu.Lock()
	s.outer = outer
	s.mu.Unlock()
}

// Outer returns the carrier socket recorded by SetOuter, or nil once
// ClearOuter has dropped it. Moving the state to ERROR does not clear it.
func (s *Socket) Outer() *Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outer
}

// ClearOuter drops the carrier reference (null while
// CLOSING/CLOSED/ERROR).
func (s *Socket) ClearOuter() {
	s.mu.Lock()
	s.outer = nil
	s.mu.Unlock()
}

// SetRecvCallback installs the consumer's read callback.
func (s *Socket) SetRecvCallback(cb RecvCallback) {
	s.mu.Lock()
	s.recvCB = cb
	s.mu.Unlock()
}

// RecvCallback returns the installed read callback, if any.
func (s *Socket) RecvCallback() RecvCallback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvCB
}

// SetAcceptCallback installs the listener's accept callback.
func (s *Socket) SetAcceptCallback(cb AcceptCallback) {
	s.mu.Lock()
	s.acceptCB = cb
	s.mu.Unlock()
}

// AcceptCallback returns the installed accept callback, if any.
func (s *Socket) AcceptCallback() AcceptCallback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceptCB
}

// NewHandle creates a new borrow of this socket, bumping its refcount.
// static pins the "one static handle per connected socket" anchor used
// by the read path to hand a stable *Handle to RecvCallback.
func (s *Socket) NewHandle(static bool) *Handle {
	h := newHandle(s, static)
	if static {
		s.mu.Lock()
		s.staticHandle = h
		s.mu.Unlock()
	}
	return h
}

// StaticHandle returns the pinned static handle, if one has been created.
func (s *Socket) StaticHandle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staticHandle
}

// ReleaseStaticHandle detaches and clears the pinned static handle, done
// on final read termination or shutdown.
func (s *Socket) ReleaseStaticHandle() {
	s.mu.Lock()
	h := s.staticHandle
	s.staticHandle = nil
	s.mu.Unlock()
	if h != nil {
		h.Detach()
	}
}

// SetReadPaused/ReadPaused expose the read-pause flag toggled by
// pause_read/resume_read (idempotent).
func (s *Socket) SetReadPaused(v bool) { s.readPaused.Store(v) }
func (s *Socket) ReadPaused() bool     { return s.readPaused.Load() }

// SetAccepting/Accepting expose the in-flight-accept flag.
func (s *Socket) SetAccepting(v bool) { s.accepting.Store(v) }
func (s *Socket) Accepting() bool     { return s.accepting.Load() }

// SetListenError/ListenError expose the listen-error flag.
func (s *Socket) SetListenError(v bool) { s.listenError.Store(v) }
func (s *Socket) ListenError() bool     { return s.listenError.Load() }

// SetKeepalive/Keepalive select the read-timeout policy: keepalive
// timeout vs. idle timeout.
func (s *Socket) SetKeepalive(v bool) { s.keepalive.Store(v) }
func (s *Socket) Keepalive() bool     { return s.keepalive.Load() }

// OnDestroy registers a hook run once the socket is fully destroyed
// (refcount zero and closed), used by transport layers to release
// transport-specific resources (file descriptors, SSL objects, HTTP/2
// sessions).
func (s *Socket) OnDestroy(fn func()) { s.onDestroy = fn }

// SetOnShutdown registers the hook Shutdown invokes to force this
// socket's underlying transport resource closed before failing
// outstanding callbacks.
func (s *Socket) SetOnShutdown(fn func()) {
	s.mu.Lock()
	s.onShutdown = fn
	s.mu.Unlock()
}

// Shutdown implements shutdown(socket): fails any outstanding accept or
// read with ErrCanceled, forces the underlying transport resource closed
// so a blocked accept/read/connect goroutine is released, then closes
// the socket. Unlike Close, which tears the socket down without
// notifying a consumer of the reason, Shutdown always delivers a
// canceled outcome first.
func (s *Socket) Shutdown() {
	cause := NewError("shutdown", ErrCanceled, nil)

	recvCB := s.RecvCallback()
	s.SetRecvCallback(nil)
	acceptCB := s.AcceptCallback()
	s.SetAcceptCallback(nil)

	if recvCB != nil {
		recvCB(s.StaticHandle(), cause, nil)
	}
	if acceptCB != nil {
		acceptCB(nil, cause)
	}

	s.mu.Lock()
	hook := s.onShutdown
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.ReleaseStaticHandle()
	s.close(cause)
}

func newSocket(mgr *Manager, w *Worker, kind Kind) *Socket {
	s := &Socket{
		id:     mgr.nextSocketID(),
		kind:   kind,
		mgr:    mgr,
		worker: w,
		recv:   newRecvBuffer(mgr.cfg.RecvBufferSize),
	}
	s.state.Store(uint32(StateInit))
	s.refcount.Store(1)
	s.log = mgr.log.WithFields(logrus.Fields{"socket": s.id, "kind": kind.String()})
	if w != nil {
		w.socketCount.Add(1)
	}
	mgr.registerSocket(s)
	return s
}

// AcquireRecvBuffer claims this socket's receive buffer for one read.
// The second return is false if the buffer is already claimed, which a
// well-behaved single read loop per socket never triggers, but is
// checked defensively.
func (s *Socket) AcquireRecvBuffer() ([]byte, bool) { return s.recv.acquire() }

// ReleaseRecvBuffer returns the socket's receive buffer after a read
// callback has consumed or copied its contents.
func (s *Socket) ReleaseRecvBuffer() { s.recv.release() }

// State returns the socket's current lifecycle state.
func (s *Socket) State() State { return State(s.state.Load()) }

func (s *Socket) setState(st State) { s.state.Store(uint32(st)) }

// casState performs a compare-and-swap on the state word.
func (s *Socket) casState(from, to State) bool {
	return s.state.CompareAndSwap(uint32(from), uint32(to))
}

// Kind reports the socket variant.
func (s *Socket) Kind() Kind { return s.kind }

// Worker returns the socket's owning worker (immutable after assignment).
func (s *Socket) Worker() *Worker { return s.worker }

// LocalAddr and RemoteAddr report addresses once known.
func (s *Socket) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localAddr
}

func (s *Socket) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerAddr
}

func (s *Socket) setAddrs(local, peer net.Addr) {
	s.mu.Lock()
	s.localAddr, s.peerAddr = local, peer
	s.mu.Unlock()
}

// ref increments the reference count; attaching a handle or uvreq.
func (s *Socket) ref() int32 { return s.refcount.Add(1) }

// unref decrements the reference count and destroys the socket once it
// reaches zero and the socket is closed.
func (s *Socket) unref() {
	n := s.refcount.Add(-1)
	if n < 0 {
		s.log.Error("refcount underflow")
		return
	}
	if n == 0 && s.closed.Load() {
		s.destroy()
	}
}

// Closing reports whether close() has begun (idempotent transition).
func (s *Socket) Closing() bool {
	st := s.State()
	return st == StateClosing || st == StateClosed || s.closed.Load()
}

// Closed reports whether the destructor's terminal flag has been set.
func (s *Socket) Closed() bool { return s.closed.Load() }

// close begins idempotent teardown. The first closing transition wins;
// later calls are no-ops. It drops the constructor's reference, so
// destroy() runs from here when no other reference is held; otherwise it
// runs when the last reference is released.
func (s *Socket) close(cause error) {
	s.closeOnce.Do(func() {
		prev := s.State()
		s.setState(StateClosing)
		s.log.WithField("prevState", prev.String()).Debug("socket closing")

		if s.server != nil {
			s.server.removeChild(s)
		}

		s.closed.Store(true)
		s.setState(StateClosed)
		s.unref() // release the constructor's implicit reference
	})
}

// destroy tears the socket down once refcount reaches zero and closed is
// true; always invoked on (or synchronously by) the owning worker's
// unref chain, never re-entered.
func (s *Socket) destroy() {
	s.server = nil
	s.outer = nil
	s.children = nil
	if s.worker != nil {
		s.worker.socketCount.Add(-1)
	}
	s.mgr.unregisterSocket(s)
	if s.onDestroy != nil {
		s.onDestroy()
	}
	s.log.Debug("socket destroyed")
}

func (s *Socket) addChild(c *Socket) {
	s.mu.Lock()
	s.children = append(s.children, c)
	s.mu.Unlock()
}

func (s *Socket) removeChild(c *Socket) {
	s.mu.Lock()
	for i, ch := range s.children {
		if ch == c {
			s.children = append(s.children[:i], s.children[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}
