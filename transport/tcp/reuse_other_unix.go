// File: transport/tcp/reuse_other_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SO_REUSEPORT and IP_FREEBIND are Linux extensions; other unices fall
// back to plain SO_REUSEADDR (already applied by the caller).

//go:build !windows && !linux

package tcp

func setReusePort(fd int) error        { return nil }
func setFreeBind(fd, domain int) error { return nil }
