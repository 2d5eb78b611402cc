package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// tcpListener accepts plain TCP clients, the way the game server does.
type tcpListener struct {
	ln   net.Listener
	port int
}

// ListenTCP listens for TCP clients on host:port (port 0 picks one).
func ListenTCP(host string, port int) (Listener, error) {
	return listenTCP(host, port)
}

func listenTCP(host string, port int) (*tcpListener, error) {
	ln, err := net.Listen("tcp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("TCP listen: %w", err)
	}

	return &tcpListener{
		ln:   ln,
		port: ln.Addr().(*net.TCPAddr).Port,
	}, nil
}

// Port returns the TCP port the listener is bound to.
func (l *tcpListener) Port() int {
	return l.port
}

// Accept waits for a new TCP client.
func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.acceptRaw(ctx)
	if err != nil {
		return nil, err
	}
	return NewConn(conn), nil
}

// acceptRaw waits for the next socket without wrapping it.
func (l *tcpListener) acceptRaw(ctx context.Context) (net.Conn, error) {
	// Use a channel so we can respect context cancellation
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("accept TCP connection: %w", res.err)
		}
		if tc, ok := res.conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
		return res.conn, nil
	case <-ctx.Done():
		// The goroutine stays blocked in Accept until the caller closes the
		// listener. A connection accepted in the meantime is closed.
		go func() {
			res := <-ch
			if res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close shuts down the TCP listener.
func (l *tcpListener) Close() error {
	return l.ln.Close()
}
