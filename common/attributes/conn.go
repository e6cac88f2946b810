package attributes

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"
)

type connKey struct{}

// CountingConn counts the bytes read from and written to a connection.
type CountingConn struct {
	net.Conn
	read    atomic.Int64
	written atomic.Int64
}

func (c *CountingConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.read.Add(int64(n))
	return n, err
}

func (c *CountingConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.written.Add(int64(n))
	return n, err
}

func (c *CountingConn) BytesRead() int64    { return c.read.Load() }
func (c *CountingConn) BytesWritten() int64 { return c.written.Load() }

type countingListener struct {
	net.Listener
}

// CountingListener wraps ln so every accepted connection is a *CountingConn.
// Pair it with ConnContext on the http.Server to expose the counters to handlers.
func CountingListener(ln net.Listener) net.Listener {
	return &countingListener{Listener: ln}
}

func (l *countingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &CountingConn{Conn: c}, nil
}

// ConnContext is an http.Server ConnContext hook storing the counting connection in the
// context of every request served on it.
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	if tc, ok := c.(*tls.Conn); ok {
		c = tc.NetConn()
	}
	if cc, ok := c.(*CountingConn); ok {
		return context.WithValue(ctx, connKey{}, cc)
	}
	return ctx
}

// ConnFromContext returns the counting connection a request was received on.
func ConnFromContext(ctx context.Context) (*CountingConn, bool) {
	cc, ok := ctx.Value(connKey{}).(*CountingConn)
	return cc, ok && cc != nil
}
