// File: transport/tcp/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP listen/accept, with quota-gated admission on the accept path.

package tcp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hioload/netmgr/internal/quota"
	"github.com/hioload/netmgr/netio"
	"github.com/sirupsen/logrus"
)

// state is the per-socket data attached via Socket.SetData for both
// listener and connected TCP sockets.
type state struct {
	mu   sync.Mutex
	conn net.Conn
	ln   net.Listener

	quota    *quota.Quota
	stopCh   chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	timeout  netTimeout

	// pendingSendBytes tracks bytes handed to Send but not yet written,
	// checked against Config.TCPWriteHighWater to defensively pause reads
	// on a socket whose peer is reading slower than this side is writing.
	pendingSendBytes  atomic.Int64
	pausedByHighWater atomic.Bool
}

// Listen implements listen_tcp: bind with retry, then run an accept loop
// that gates admission through q (nil disables quota gating) and hands
// each accepted connection to a uniformly random worker other than the
// listener's own.
func Listen(mgr *netio.Manager, iface string, acceptCB netio.AcceptCallback, backlog int, q *quota.Quota) (*netio.Socket, error) {
	if backlog <= 0 {
		backlog = mgr.Config().AcceptBacklog
	}
	ln, err := bindWithRetry(iface, backlog)
	if err != nil {
		return nil, err
	}

	w := mgr.PickWorker()
	s := mgr.NewSocket(w, netio.KindTCPListener)
	s.SetState(netio.StateListening)
	s.SetAcceptCallback(acceptCB)
	s.SetAddrs(ln.Addr(), nil)

	st := &state{ln: ln, quota: q, stopCh: make(chan struct{}), stopped: make(chan struct{})}
	s.SetData(st)
	s.SetOnShutdown(func() { StopListening(s) })

	go acceptLoop(mgr, s, w, st)
	return s, nil
}

// StopListening is stop_listening: idempotent and asynchronous from the
// caller's perspective, but internally waits (bounded) for acceptLoop to
// actually observe stopCh and exit before closing the socket, so a
// listener socket is never reported closed while its accept goroutine
// might still be mid-dispatch.
func StopListening(s *netio.Socket) {
	st, ok := s.Data().(*state)
	if !ok {
		return
	}
	st.stopOnce.Do(func() {
		s.SetState(netio.StateStoppingListen)
		close(st.stopCh)
		st.ln.Close()
		waitAcceptLoopStopped(s, st)
		s.Close(nil)
	})
}

// waitAcceptLoopStopped is the stop_listening interlock: acceptLoop may be
// blocked dispatching an already-accepted connection to a worker, so this
// retries a short wait for it to close st.stopped, bounded by
// MaxStopRetries so a wedged worker can't hang shutdown forever. Each
// retry is counted for Stats.
func waitAcceptLoopStopped(s *netio.Socket, st *state) {
	max := s.Manager().Config().MaxStopRetries
	if max <= 0 {
		max = 1
	}
	backoff := time.Millisecond
	for i := 0; i < max; i++ {
		select {
		case <-st.stopped:
			return
		case <-time.After(backoff):
			s.Manager().RecordStopSpin()
			if backoff < 64*time.Millisecond {
				backoff *= 2
			}
		}
	}
	logrus.WithField("socket", s.ID()).Warn("listener stop interlock exhausted retries, closing regardless")
}

func acceptLoop(mgr *netio.Manager, listener *netio.Socket, listenerWorker *netio.Worker, st *state) {
	log := logrus.WithFields(logrus.Fields{"component": "tcp", "socket": listener.ID()})
	defer close(st.stopped)

	for {
		select {
		case <-st.stopCh:
			return
		default:
		}

		// Quota is checked before accept: an exhausted quota leaves the
		// pending connection queued in the kernel backlog until a slot
		// frees. The freed slot transfers straight to this waiter, no
		// re-attach needed.
		if st.quota != nil {
			retry := make(chan struct{}, 1)
			if st.quota.Attach(func() { retry <- struct{}{} }) == quota.Suspended {
				mgr.RecordAcceptFailure()
				select {
				case <-retry:
				case <-st.stopCh:
					return
				}
			}
		}

		conn, err := st.ln.Accept()
		if err != nil {
			select {
			case <-st.stopCh:
				return
			default:
			}
			log.WithError(err).Warn("accept failed")
			if st.quota != nil {
				st.quota.Detach()
			}
			continue
		}

		if mgr.Closing() {
			conn.Close()
			if cb := listener.AcceptCallback(); cb != nil {
				cb(nil, netio.NewError("accept", netio.ErrCanceled, nil))
			}
			if st.quota != nil {
				st.quota.Detach()
			}
			continue
		}

		q := st.quota
		childWorker := mgr.PickWorkerExcept(listenerWorker)
		childWorker.Enqueue("accept", func() {
			finishAccept(mgr, listener, childWorker, conn, q, log)
		})
	}
}

// finishAccept runs on the target worker's loop goroutine: the
// already-connected net.Conn simply changes goroutine ownership here,
// which Go's runtime allows safely, in place of importing an exported fd
// on the target thread.
func finishAccept(mgr *netio.Manager, listener *netio.Socket, w *netio.Worker, conn net.Conn, q *quota.Quota, log *logrus.Entry) {
	child := mgr.NewSocket(w, netio.KindTCPConnected)
	child.SetServer(listener)
	child.SetAddrs(conn.LocalAddr(), conn.RemoteAddr())
	child.SetState(netio.StateConnected)
	child.SetData(&state{conn: conn, quota: q})
	child.SetOnShutdown(func() { conn.Close() })
	if q != nil {
		child.OnDestroy(func() { q.Detach() })
	}

	handle := child.NewHandle(true)
	log.WithField("peer", conn.RemoteAddr()).Debug("accepted connection")
	if cb := listener.AcceptCallback(); cb != nil {
		cb(handle, nil)
	}
}
