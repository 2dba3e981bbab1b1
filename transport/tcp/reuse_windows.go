// File: transport/tcp/reuse_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Windows lacks SO_REUSEPORT/IP_FREEBIND parity; bindWithRetry degrades
// to a single plain bind attempt.

//go:build windows

package tcp

import (
	"net"

	"github.com/hioload/netmgr/netio"
)

func bindWithRetry(addr string, backlog int) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, netio.NewError("listen", netio.ErrFailure, err)
	}
	return ln, nil
}
