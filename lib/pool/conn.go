package pool

import (
	"net"

	"github.com/distcache/cachepool/lib/negotiation"
)

// Conn is a connection borrowed from a Pool. It is ready for cache protocol
// traffic: any TLS handshake and the version negotiation are complete.
// Closing it returns it to the pool.
type Conn struct {
	net.Conn

	pool    *Pool
	slot    *slot
	session negotiation.Session
}

// ID identifies the underlying physical connection within its pool.
func (c *Conn) ID() uint64 {
	return c.slot.id
}

// Session returns the negotiated session.
func (c *Conn) Session() negotiation.Session {
	return c.session
}

// Version returns the negotiated protocol version.
func (c *Conn) Version() negotiation.Version {
	return c.session.Version()
}

// Close returns the connection to the pool. See Pool.Release.
func (c *Conn) Close() error {
	return c.pool.Release(c)
}

// Discard closes the connection and frees its pool capacity. Use it after
// an I/O error. See Pool.Discard.
func (c *Conn) Discard() error {
	return c.pool.Discard(c)
}
