//go:build !unix

package transport

import "net"

// probe is a no-op where non-blocking peeks are unavailable; only the
// recorded connection state is checked.
func probe(net.Conn) error {
	return nil
}
