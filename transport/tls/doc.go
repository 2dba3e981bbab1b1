// File: transport/tls/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package tls layers a TLS state machine over a TCP carrier socket.
// crypto/tls has no public memory-BIO API, so the ssl_bio/app_bio pair
// is realized as an in-process net.Pipe: one end drives crypto/tls.Conn,
// the other is pumped against the TCP carrier by this package's
// do_bio-equivalent goroutines.
package tls
