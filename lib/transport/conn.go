package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Conn wraps an established connection. It applies an idle deadline to
// every Read and Write and remembers the first I/O error, so the pool can
// tell a broken connection from a healthy one without touching the wire.
type Conn struct {
	net.Conn

	idleTimeout time.Duration
	createdAt   time.Time
	usedAt      atomic.Int64

	mu     sync.Mutex
	err    error
	closed bool
}

// NewConn wraps c. An idleTimeout of zero leaves deadlines untouched.
func NewConn(c net.Conn, idleTimeout time.Duration) *Conn {
	now := time.Now()
	conn := &Conn{Conn: c, idleTimeout: idleTimeout, createdAt: now}
	conn.usedAt.Store(now.UnixNano())
	return conn
}

// Read implements net.Conn.
func (c *Conn) Read(b []byte) (int, error) {
	if c.idleTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			c.recordErr(err)
			return 0, err
		}
	}
	n, err := c.Conn.Read(b)
	c.recordErr(err)
	return n, err
}

// Write implements net.Conn.
func (c *Conn) Write(b []byte) (int, error) {
	if c.idleTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			c.recordErr(err)
			return 0, err
		}
	}
	n, err := c.Conn.Write(b)
	c.recordErr(err)
	return n, err
}

// Close closes the underlying connection once. Later calls return nil.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.Conn.Close()
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Err returns the first I/O error seen on the connection, or nil.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// NetConn returns the wrapped connection.
func (c *Conn) NetConn() net.Conn {
	return c.Conn
}

// CreatedAt returns when the connection was wrapped.
func (c *Conn) CreatedAt() time.Time {
	return c.createdAt
}

// UsedAt returns when the connection was last marked used.
func (c *Conn) UsedAt() time.Time {
	return time.Unix(0, c.usedAt.Load())
}

// MarkUsed records t as the last use time.
func (c *Conn) MarkUsed(t time.Time) {
	c.usedAt.Store(t.UnixNano())
}

func (c *Conn) recordErr(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}
