package transport

import (
	"crypto/tls"
	"errors"
	"net"
)

var errUnexpectedRead = errors.New("unexpected read from idle connection")

// HealthChecker decides whether an idle connection can be handed out again.
type HealthChecker interface {
	Healthy(conn net.Conn) bool
}

// HealthCheckerFunc adapts a function to the HealthChecker interface.
type HealthCheckerFunc func(conn net.Conn) bool

// Healthy implements HealthChecker.
func (f HealthCheckerFunc) Healthy(conn net.Conn) bool {
	return f(conn)
}

// ActiveChecker verifies a connection is still usable. A *Conn that has been
// closed or has seen an I/O error is unhealthy. Otherwise the socket is
// peeked without blocking: a peer close or an error fails the check, and so
// does unsolicited data on a plaintext connection. Pending bytes under TLS
// can be post-handshake records and are tolerated.
type ActiveChecker struct{}

// Healthy implements HealthChecker.
func (ActiveChecker) Healthy(conn net.Conn) bool {
	if conn == nil {
		return false
	}
	if c, ok := conn.(*Conn); ok {
		if c.Closed() {
			return false
		}
		if err := c.Err(); err != nil {
			log.WithError(err).Debug("connection has a recorded I/O error")
			return false
		}
		conn = c.NetConn()
	}

	secure := false
	if tc, ok := conn.(*tls.Conn); ok {
		conn = tc.NetConn()
		secure = true
	}

	err := probe(conn)
	switch {
	case err == nil:
		return true
	case secure && errors.Is(err, errUnexpectedRead):
		return true
	default:
		log.WithField("remote", remoteAddr(conn)).WithError(err).Debug("connection failed health probe")
		return false
	}
}

func remoteAddr(c net.Conn) string {
	if addr := c.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
