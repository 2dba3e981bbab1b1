// File: transport/doh/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HTTP/2 DoH server: listen_http/add_doh_endpoint. Framing and flow
// control are delegated entirely to golang.org/x/net/http2; this file's
// job is routing by :path and mapping each request to exactly one handle
// so a response is delivered via nm_send at most once.

package doh

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/hioload/netmgr/internal/quota"
	"github.com/hioload/netmgr/netio"
	"github.com/hioload/netmgr/transport/tcp"
	nettls "github.com/hioload/netmgr/transport/tls"
)

// responseTimeout bounds how long a registered endpoint may take to call
// Send before the request fails with a gateway timeout; this is a
// conservative operational default, not derived from any protocol
// requirement.
const responseTimeout = 30 * time.Second

type router struct {
	mgr           *netio.Manager
	maxQueryBytes int

	mu    sync.RWMutex
	paths map[string]netio.RecvCallback
}

func newRouter(mgr *netio.Manager, maxQueryBytes int) *router {
	return &router{mgr: mgr, maxQueryBytes: maxQueryBytes, paths: make(map[string]netio.RecvCallback)}
}

func (rt *router) add(path string, cb netio.RecvCallback) {
	rt.mu.Lock()
	rt.paths[path] = cb
	rt.mu.Unlock()
}

func (rt *router) lookup(path string) (netio.RecvCallback, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	cb, ok := rt.paths[path]
	return cb, ok
}

// ServeHTTP implements http.Handler, demultiplexing by :path.
func (rt *router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cb, ok := rt.lookup(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	serveEndpoint(rt.mgr, cb, w, r, rt.maxQueryBytes)
}

type httpListenerState struct {
	router   *router
	listener *netio.Socket
	tlsBased bool
}

// requestState carries the per-request ResponseWriter; once guards at
// most one response callback per request.
type requestState struct {
	once sync.Once
	w    http.ResponseWriter
	done chan struct{}
}

// ListenHTTP implements listen_http(iface, tls_ctx?, endpoints): endpoints
// are registered afterward via AddEndpoint, since Go's http.ServeMux
// doesn't support post-construction registration and this needs to
// support add_doh_endpoint being called anytime after Listen returns.
// tlsCfg nil selects a plaintext (h2 prior-knowledge) carrier.
func ListenHTTP(mgr *netio.Manager, iface string, tlsCfg *tls.Config, backlog int, q *quota.Quota, maxConcurrentStreams uint32, maxQueryBytes int) (*netio.Socket, error) {
	if maxConcurrentStreams == 0 {
		maxConcurrentStreams = uint32(mgr.Config().DoHMaxConcurrentStreams)
	}
	if maxQueryBytes == 0 {
		maxQueryBytes = mgr.Config().DoHMaxQueryBytes
	}
	rt := newRouter(mgr, maxQueryBytes)
	h2srv := &http2.Server{MaxConcurrentStreams: maxConcurrentStreams}

	facade := mgr.NewSocket(mgr.PickWorker(), netio.KindHTTPListener)
	facade.SetState(netio.StateListening)

	var listener *netio.Socket
	var err error
	if tlsCfg != nil {
		ensureALPN(tlsCfg)
		listener, err = nettls.Listen(mgr, iface, tlsCfg, func(h *netio.Handle, aerr error) {
			if aerr != nil {
				return
			}
			serveConn(h, h2srv, rt, true)
		}, backlog, q)
	} else {
		listener, err = tcp.Listen(mgr, iface, func(h *netio.Handle, aerr error) {
			if aerr != nil {
				return
			}
			serveConn(h, h2srv, rt, false)
		}, backlog, q)
	}
	if err != nil {
		facade.Close(err)
		return nil, err
	}

	facade.SetOuter(listener)
	facade.SetAddrs(listener.LocalAddr(), nil)
	facade.SetData(&httpListenerState{router: rt, listener: listener, tlsBased: tlsCfg != nil})
	return facade, nil
}

// AddEndpoint implements add_doh_endpoint(socket, path, recv_cb).
func AddEndpoint(s *netio.Socket, path string, cb netio.RecvCallback) {
	if hs, ok := s.Data().(*httpListenerState); ok {
		hs.router.add(path, cb)
	}
}

// StopListeningHTTP implements stop_listening for a DoH listener socket.
func StopListeningHTTP(s *netio.Socket) {
	if hs, ok := s.Data().(*httpListenerState); ok {
		if hs.tlsBased {
			nettls.StopListening(hs.listener)
		} else {
			tcp.StopListening(hs.listener)
		}
	}
	s.Close(nil)
}

// serveConn hands the accepted connection to http2.Server. The callback
// that reaches here now runs on the connection's owning worker (both
// tcp.Listen's accept path and tls's post-handshake readiness callback
// are worker-marshaled), so ServeConn — which blocks for the entire
// HTTP/2 session — is started on its own goroutine rather than run
// inline, or every other socket on that worker would stall until the
// session ends.
func serveConn(h *netio.Handle, srv *http2.Server, rt *router, checkALPN bool) {
	s := h.Socket()
	var conn net.Conn
	var ok bool
	if checkALPN {
		cs, hasState := nettls.ConnectionState(s)
		if !hasState || cs.NegotiatedProtocol != "h2" {
			s.Close(netio.NewError("doh", netio.ErrHTTP2ALPN, nil))
			return
		}
		conn, ok = nettls.RawConn(s)
	} else {
		conn, ok = tcp.RawConn(s)
	}
	if !ok {
		return
	}
	go srv.ServeConn(conn, &http2.ServeConnOpts{Context: context.Background(), Handler: rt})
}

func serveEndpoint(mgr *netio.Manager, cb netio.RecvCallback, w http.ResponseWriter, r *http.Request, maxQueryBytes int) {
	var body []byte
	var err error
	switch r.Method {
	case http.MethodGet:
		body, err = decodeGETRequest(r, maxQueryBytes)
	case http.MethodPost:
		body, err = io.ReadAll(io.LimitReader(r.Body, 64*1024))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sock := mgr.NewSocket(mgr.PickWorker(), netio.KindHTTPSocket)
	defer sock.Close(nil)

	rs := &requestState{w: w, done: make(chan struct{})}
	sock.SetData(rs)
	handle := sock.NewHandle(true)

	cb(handle, nil, body)

	select {
	case <-rs.done:
	case <-time.After(responseTimeout):
		rs.once.Do(func() {
			http.Error(w, "recv_cb timeout", http.StatusGatewayTimeout)
			close(rs.done)
		})
	}
}

func decodeGETRequest(r *http.Request, maxQueryBytes int) ([]byte, error) {
	if accept := r.Header.Get("accept"); accept != "" && accept != "application/dns-message" {
		return nil, netio.NewError("doh", netio.ErrInvalidProto, nil)
	}
	dnsParam, err := ParseDNSQueryParam(r.URL.RawQuery)
	if err != nil {
		return nil, err
	}
	body, err := DecodeGETBody(dnsParam)
	if err != nil {
		return nil, err
	}
	if maxQueryBytes > 0 && len(body) > maxQueryBytes {
		return nil, netio.NewError("doh", netio.ErrInvalidProto, nil)
	}
	return body, nil
}

// Send implements send(handle, region, send_cb) for a DoH request/response
// exchange: the response is written to the underlying HTTP/2 stream at
// most once, enforced by requestState.once.
func Send(h *netio.Handle, region []byte, cb netio.SendCallback) {
	s := h.Socket()
	rs, ok := s.Data().(*requestState)
	if !ok {
		if cb != nil {
			cb(h, netio.NewError("send", netio.ErrNotConnected, nil))
		}
		return
	}

	var writeErr error
	rs.once.Do(func() {
		rs.w.Header().Set("content-type", "application/dns-message")
		rs.w.WriteHeader(http.StatusOK)
		_, writeErr = rs.w.Write(region)
		close(rs.done)
	})

	if cb == nil {
		return
	}
	if writeErr != nil {
		cb(h, netio.NewError("send", netio.ErrFailure, writeErr))
		return
	}
	cb(h, nil)
}
