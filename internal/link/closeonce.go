package link

import (
	"net"
	"sync"
)

// closeOnceConn is a [net.Conn] where the Close method has once semantics.
//
// The zero value is invalid; use [newCloseOnceConn].
type closeOnceConn struct {
	// once ensures we close just once.
	once sync.Once

	// Conn is the underlying conn.
	net.Conn
}

var _ net.Conn = &closeOnceConn{}

// newCloseOnceConn wraps conn unless it already has once semantics.
func newCloseOnceConn(conn net.Conn) net.Conn {
	if c, ok := conn.(*closeOnceConn); ok {
		return c
	}
	return &closeOnceConn{Conn: conn}
}

// Close implements net.Conn
func (c *closeOnceConn) Close() (err error) {
	c.once.Do(func() {
		err = c.Conn.Close()
	})
	return
}
