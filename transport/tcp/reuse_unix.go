// File: transport/tcp/reuse_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bind-retry ladder, using the same //go:build per-OS split as the
// deleted CPU-affinity helpers did; here it selects between raw-socket
// retry knobs and a plain net.Listen fallback.

//go:build !windows

package tcp

import (
	"errors"
	"net"
	"os"
	"syscall"

	"github.com/hioload/netmgr/netio"
	"golang.org/x/sys/unix"
)

// bindWithRetry binds addr, retrying with SO_REUSEADDR/SO_REUSEPORT on
// EADDRINUSE and with IP_FREEBIND on EADDRNOTAVAIL. Sockets are created
// directly via golang.org/x/sys/unix, rather than net.Listen, so the
// caller's backlog is honored exactly instead of the runtime's default.
func bindWithRetry(addr string, backlog int) (net.Listener, error) {
	ln, err := rawListen(addr, backlog, false, false)
	if err == nil {
		return ln, nil
	}
	if isErrno(err, unix.EADDRINUSE) {
		if ln2, err2 := rawListen(addr, backlog, true, false); err2 == nil {
			return ln2, nil
		}
		return nil, netio.NewError("listen", netio.ErrAddrInUse, err)
	}
	if isErrno(err, unix.EADDRNOTAVAIL) {
		if ln2, err2 := rawListen(addr, backlog, false, true); err2 == nil {
			return ln2, nil
		}
		return nil, netio.NewError("listen", netio.ErrAddrNotAvail, err)
	}
	return nil, netio.NewError("listen", netio.ErrFailure, err)
}

func rawListen(addr string, backlog int, reuse, freebind bool) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	domain := unix.AF_INET
	if tcpAddr.IP != nil && tcpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, err
	}
	closeFD := true
	defer func() {
		if closeFD {
			unix.Close(fd)
		}
	}()

	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	if reuse {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return nil, err
		}
		if err := setReusePort(fd); err != nil {
			return nil, err
		}
	}
	if freebind {
		if err := setFreeBind(fd, domain); err != nil {
			return nil, err
		}
	}

	if err := bindSockaddr(fd, domain, tcpAddr); err != nil {
		return nil, err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return nil, err
	}

	f := os.NewFile(uintptr(fd), "netmgr-tcp-listener")
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, err
	}
	closeFD = false
	return ln, nil
}

func bindSockaddr(fd, domain int, addr *net.TCPAddr) error {
	if domain == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		if addr.IP != nil {
			copy(sa.Addr[:], addr.IP.To16())
		}
		return unix.Bind(fd, sa)
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	if addr.IP != nil {
		copy(sa.Addr[:], addr.IP.To4())
	}
	return unix.Bind(fd, sa)
}

func isErrno(err error, errno syscall.Errno) bool {
	var se syscall.Errno
	return errors.As(err, &se) && se == errno
}
