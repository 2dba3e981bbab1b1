// File: transport/doh/alpn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package doh

import "crypto/tls"

// ensureALPN appends "h2" to cfg.NextProtos if not already present, since
// golang.org/x/net/http2 requires ALPN negotiation to select HTTP/2 over
// a TLS carrier.
func ensureALPN(cfg *tls.Config) {
	for _, p := range cfg.NextProtos {
		if p == "h2" {
			return
		}
	}
	cfg.NextProtos = append(cfg.NextProtos, "h2")
}
