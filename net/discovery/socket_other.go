//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package discovery

import "syscall"

func reusePort(network, address string, c syscall.RawConn) error {
	return nil
}
