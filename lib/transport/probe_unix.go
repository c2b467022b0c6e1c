//go:build unix

package transport

import (
	"io"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// probe peeks one byte without blocking. It returns nil when nothing is
// pending, io.EOF when the peer closed, and errUnexpectedRead when data is
// waiting.
func probe(conn net.Conn) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return err
	}

	var sysErr error
	err = rc.Read(func(fd uintptr) bool {
		var buf [1]byte
		n, _, err := unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case n == 0 && err == nil:
			sysErr = io.EOF
		case n > 0:
			sysErr = errUnexpectedRead
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			sysErr = nil
		default:
			sysErr = err
		}
		return true
	})
	if err != nil {
		return err
	}
	return sysErr
}
