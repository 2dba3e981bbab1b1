// File: transport/tls/membio.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// newMembio stands in for the ssl_bio/app_bio memory-BIO pair: a
// synchronous in-process net.Conn pipe. crypto/tls drives one end as its
// transport; the other end is pumped against the real network carrier by
// pumpCarrierToApp/pumpAppToCarrier in conn.go.

package tls

import "net"

func newMembio() (sslSide, appSide net.Conn) {
	return net.Pipe()
}
