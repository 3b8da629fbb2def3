package server

import (
	"net"
	"sync"
)

// LineConn wraps a net.Conn with automatic write synchronization so that
// concurrent writers (the handler goroutine and broadcast senders) cannot
// interleave bytes inside a wire record.
//
// It is the only way to write to the connection - the raw conn is private.
type LineConn struct {
	conn net.Conn
	mu   sync.Mutex // Protects writes to conn
}

// NewLineConn wraps a net.Conn with write synchronization.
func NewLineConn(conn net.Conn) *LineConn {
	return &LineConn{conn: conn}
}

// WriteLine writes one encoded, newline-terminated record.
func (c *LineConn) WriteLine(line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(line)
	return err
}

// WriteRaw writes bytes with no framing. Used exactly once in the
// protocol: the bare session key written to the password connection
// before it is closed.
func (c *LineConn) WriteRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(data)
	return err
}

// Close closes the underlying connection.
func (c *LineConn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the remote network address as a string.
func (c *LineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
