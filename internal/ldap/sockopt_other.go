//go:build !unix

package ldap

import "syscall"

func tuneSocket(_, _ string, _ syscall.RawConn) error {
	return nil
}
