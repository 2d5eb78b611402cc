package transport

import (
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/kivups/kivups-client/internal/protocol"
)

// quicConn carries KIVUPS frames over one bidirectional QUIC stream.
type quicConn struct {
	qconn     *quic.Conn
	stream    *quic.Stream
	tr        *quic.Transport // dial side only; owns the UDP socket
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// ReadFrame reads the next frame from the stream.
func (c *quicConn) ReadFrame() (protocol.Frame, error) {
	return protocol.ReadFrame(c.stream)
}

// WriteFrame writes one framed message, serialized with other writers.
func (c *quicConn) WriteFrame(op protocol.Opcode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteFrame(c.stream, op, payload)
}

// SetReadDeadline sets the read deadline on the stream.
func (c *quicConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *quicConn) RemoteAddr() string {
	return c.qconn.RemoteAddr().String()
}

// Close closes the stream and the underlying QUIC connection.
func (c *quicConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stream.CancelRead(0)
		c.stream.Close()
		err = c.qconn.CloseWithError(0, "closed")
		if c.tr != nil {
			err = c.tr.Close()
		}
	})
	return err
}
