// File: transport/doh/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package doh implements DNS-over-HTTPS transport on top of
// golang.org/x/net/http2: server-side endpoint routing keyed by path,
// client-side GET/POST request composition, and the URL/query-parameter
// parsing DoH needs that net/url doesn't give verbatim (last-wins dns=,
// percent-escape validation, base64url<->base64 conversion).
package doh
