// File: transport/tcp/reuse_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build linux

package tcp

import "golang.org/x/sys/unix"

func setReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

func setFreeBind(fd, _ int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_FREEBIND, 1)
}
