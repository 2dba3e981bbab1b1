// File: transport/tcp/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package tcp implements the plain-TCP transport: listen with bind-retry,
// quota-gated accept, connect-with-timeout, and the read/write/cancel
// surface used directly by consumers and layered under transport/tls.
package tcp
