// File: netio/config.go
// Package netio
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Immutable-per-run configuration for a Manager.

package netio

import "time"

// Config holds parameters immutable for the lifetime of a Manager. Runtime
// adjustments flow through Manager's control surface (Stats/OnConfigReload)
// rather than mutating this struct in place.
type Config struct {
	// NWorkers is the number of I/O worker threads. Zero selects a sane
	// default based on GOMAXPROCS.
	NWorkers int

	// RecvBufferSize is the size in bytes of each socket's reusable
	// receive buffer.
	RecvBufferSize int

	// EventQueueCapacity bounds each worker's inbound net-event queue.
	EventQueueCapacity int

	// AcceptBacklog is the default listen(2) backlog for TCP/TLS/HTTP
	// listeners, used when a listener is given a backlog <= 0.
	AcceptBacklog int

	// IdleTimeout is the default read timeout applied to a connection that
	// is not marked keepalive.
	IdleTimeout time.Duration

	// KeepaliveTimeout is the read timeout applied to a connection with the
	// keepalive flag set.
	KeepaliveTimeout time.Duration

	// ConnectTimeout bounds outbound connect() attempts that are given a
	// timeout <= 0.
	ConnectTimeout time.Duration

	// TCPWriteHighWater bounds outstanding queued send bytes per TCP-backed
	// socket before reads are defensively paused.
	TCPWriteHighWater int

	// DoHMaxConcurrentStreams caps concurrent HTTP/2 streams per DoH
	// session when ListenHTTP is given a cap of 0.
	DoHMaxConcurrentStreams int

	// DoHMaxQueryBytes caps the decoded size of a GET-style `dns=` query
	// parameter when ListenHTTP is given a cap of 0.
	DoHMaxQueryBytes int

	// MaxStopRetries bounds the listener-stop interlock re-enqueue loop.
	MaxStopRetries int
}

// DefaultConfig returns sane defaults for the network manager core.
func DefaultConfig() *Config {
	return &Config{
		NWorkers:                0,
		RecvBufferSize:          64 * 1024,
		EventQueueCapacity:      1024,
		AcceptBacklog:           128,
		IdleTimeout:             30 * time.Second,
		KeepaliveTimeout:        2 * time.Minute,
		ConnectTimeout:          10 * time.Second,
		TCPWriteHighWater:       4 * 1024 * 1024,
		DoHMaxConcurrentStreams: 100,
		DoHMaxQueryBytes:        4096,
		MaxStopRetries:          8,
	}
}
