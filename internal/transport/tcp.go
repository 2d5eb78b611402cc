package transport

import (
	"net"
	"sync"
	"time"

	"github.com/kivups/kivups-client/internal/protocol"
)

// tcpConn wraps a plain TCP stream. Writes from the receive loop's peers
// (heartbeat, recovery, application) share one socket, so they go through
// writeMu; each frame is written with a single Write call.
type tcpConn struct {
	conn      net.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewConn wraps an established stream connection (TCP socket, net.Pipe end).
func NewConn(conn net.Conn) Conn {
	return &tcpConn{conn: conn}
}

// ReadFrame reads the next frame from the socket.
func (c *tcpConn) ReadFrame() (protocol.Frame, error) {
	return protocol.ReadFrame(c.conn)
}

// WriteFrame writes one framed message, serialized with other writers.
func (c *tcpConn) WriteFrame(op protocol.Opcode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteFrame(c.conn, op, payload)
}

// SetReadDeadline bounds the next ReadFrame. The zero time clears it.
func (c *tcpConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close closes the socket, which unblocks a ReadFrame in progress.
func (c *tcpConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
