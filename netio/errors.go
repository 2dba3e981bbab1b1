// File: netio/errors.go
// Package netio
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed error taxonomy for the network manager core, covering every
// failure kind a transport layer or its consumers can observe.

package netio

import (
	"errors"
	"fmt"
)

// ErrorKind is one of the fixed taxonomy of netmgr error kinds.
type ErrorKind int

const (
	ErrCanceled ErrorKind = iota
	ErrTimedOut
	ErrQuota
	ErrSoftQuota
	ErrEOF
	ErrConnectionReset
	ErrAddrInUse
	ErrAddrNotAvail
	ErrNotConnected
	ErrTLS
	ErrTLSBadPeerCert
	ErrDoTALPN
	ErrHTTP2ALPN
	ErrInvalidProto
	ErrFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ErrCanceled:
		return "canceled"
	case ErrTimedOut:
		return "timedout"
	case ErrQuota:
		return "quota"
	case ErrSoftQuota:
		return "softquota"
	case ErrEOF:
		return "eof"
	case ErrConnectionReset:
		return "connectionreset"
	case ErrAddrInUse:
		return "addrinuse"
	case ErrAddrNotAvail:
		return "addrnotavail"
	case ErrNotConnected:
		return "notconnected"
	case ErrTLS:
		return "tlserror"
	case ErrTLSBadPeerCert:
		return "tlsbadpeercert"
	case ErrDoTALPN:
		return "dotalpnerror"
	case ErrHTTP2ALPN:
		return "http2alpnerror"
	case ErrInvalidProto:
		return "invalidproto"
	default:
		return "failure"
	}
}

// Error carries a kind, the operation that raised it, and an optional
// wrapped cause.
type Error struct {
	Kind  ErrorKind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("netio: %s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("netio: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a *Error for op with kind, optionally wrapping cause.
func NewError(op string, kind ErrorKind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Cause: cause}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is
// a *Error; the second return is false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	if err == nil {
		return 0, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
