package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/kivups/kivups-client/internal/protocol"
)

// wsPath is the upgrade path a WebSocket gateway serves KIVUPS on.
const wsPath = "/kivups"

// wsConn carries KIVUPS frames in WebSocket binary messages. Each written
// frame is one message; reads treat the message sequence as a byte stream,
// so a gateway may split or merge frames freely.
type wsConn struct {
	conn    net.Conn
	state   ws.State
	rw      io.ReadWriter // control replies go out through writeMu
	pending []byte
	writeMu sync.Mutex

	closeOnce sync.Once
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func newWSConn(conn net.Conn, br *bufio.Reader, state ws.State) *wsConn {
	c := &wsConn{conn: conn, state: state}
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	c.rw = struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{mu: &c.writeMu, w: conn}}
	return c
}

// dialWS upgrades a TCP connection to addr into a WebSocket session.
func dialWS(ctx context.Context, addr string) (Conn, error) {
	url := addr
	if !strings.HasPrefix(addr, "ws://") {
		url = "ws://" + addr + wsPath
	}
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("WebSocket dial: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return newWSConn(conn, br, ws.StateClientSide), nil
}

// Read implements io.Reader over the incoming binary messages.
func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		data, op, err := wsutil.ReadData(c.rw, c.state)
		if err != nil {
			return 0, err
		}
		if op != ws.OpBinary && op != ws.OpText {
			continue
		}
		c.pending = data
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// ReadFrame reads the next frame from the message stream.
func (c *wsConn) ReadFrame() (protocol.Frame, error) {
	return protocol.ReadFrame(c)
}

// WriteFrame writes one frame as a single binary message.
func (c *wsConn) WriteFrame(op protocol.Opcode, payload []byte) error {
	buf, err := protocol.EncodeFrame(op, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteMessage(c.conn, c.state, ws.OpBinary, buf)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close sends a close message and closes the socket.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		// The deadline also unblocks a WriteFrame stuck on a dead peer.
		c.conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
		c.writeMu.Lock()
		_ = wsutil.WriteMessage(c.conn, c.state, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// wsListener accepts WebSocket clients, the way a browser-facing gateway in
// front of the game server does.
type wsListener struct {
	tcp *tcpListener
}

// ListenWS listens for WebSocket clients on host:port (port 0 picks one).
func ListenWS(host string, port int) (Listener, error) {
	tl, err := listenTCP(host, port)
	if err != nil {
		return nil, err
	}
	return &wsListener{tcp: tl}, nil
}

// Accept waits for a client and completes the upgrade handshake.
func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	raw, err := l.tcp.acceptRaw(ctx)
	if err != nil {
		return nil, err
	}
	raw.SetDeadline(time.Now().Add(5 * time.Second))
	u := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			if string(uri) != wsPath {
				return ws.RejectConnectionError(ws.RejectionStatus(404))
			}
			return nil
		},
	}
	if _, err := u.Upgrade(raw); err != nil {
		raw.Close()
		return nil, fmt.Errorf("WebSocket upgrade: %w", err)
	}
	raw.SetDeadline(time.Time{})
	return newWSConn(raw, nil, ws.StateServerSide), nil
}

func (l *wsListener) Port() int {
	return l.tcp.Port()
}

func (l *wsListener) Close() error {
	return l.tcp.Close()
}
