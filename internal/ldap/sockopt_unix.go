//go:build unix

package ldap

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneSocket enables SO_REUSEADDR before connect.
func tuneSocket(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
