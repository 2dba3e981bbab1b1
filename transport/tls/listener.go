// File: transport/tls/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TLS listen/connect: wraps a plain TCP listener and instantiates one
// TLS socket per accepted carrier, sharing a single *tls.Config as the
// canonical, uncopied SSL context.

package tls

import (
	"crypto/tls"
	"time"

	"github.com/hioload/netmgr/internal/quota"
	"github.com/hioload/netmgr/netio"
	"github.com/hioload/netmgr/transport/tcp"
)

type listenerState struct {
	carrier *netio.Socket
}

// Listen implements listen_tls(iface, accept_cb, backlog, quota?, tls_ctx).
func Listen(mgr *netio.Manager, iface string, cfg *tls.Config, acceptCB netio.AcceptCallback, backlog int, q *quota.Quota) (*netio.Socket, error) {
	w := mgr.PickWorker()
	facade := mgr.NewSocket(w, netio.KindTLSListener)
	facade.SetAcceptCallback(acceptCB)

	carrier, err := tcp.Listen(mgr, iface, func(h *netio.Handle, err error) {
		if err != nil {
			if acceptCB != nil {
				acceptCB(nil, err)
			}
			return
		}
		newTLSSocket(mgr, h, cfg, true, acceptCB)
	}, backlog, q)
	if err != nil {
		facade.Close(err)
		return nil, err
	}

	facade.SetState(netio.StateListening)
	facade.SetAddrs(carrier.LocalAddr(), nil)
	facade.SetData(&listenerState{carrier: carrier})
	return facade, nil
}

// StopListening implements stop_listening for a TLS listener socket.
func StopListening(s *netio.Socket) {
	if ls, ok := s.Data().(*listenerState); ok {
		tcp.StopListening(ls.carrier)
	}
	s.Close(nil)
}

// Connect implements connect_tls(local, peer, cb, tls_ctx, timeout).
func Connect(mgr *netio.Manager, local, peer string, cfg *tls.Config, cb netio.AcceptCallback, timeout time.Duration) {
	tcp.Connect(mgr, local, peer, func(h *netio.Handle, err error) {
		if err != nil {
			if cb != nil {
				cb(nil, err)
			}
			return
		}
		newTLSSocket(mgr, h, cfg, false, cb)
	}, timeout)
}
