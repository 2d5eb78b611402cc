package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/quic-go/quic-go"
)

// Listener accepts KIVUPS connections. The client never listens; gateways
// and test servers do.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Port() int
	Close() error
}

// quicListener is the gateway side of dialQUIC: every accepted QUIC
// connection carries frames on the first stream the client opens.
type quicListener struct {
	tr   *quic.Transport
	ln   *quic.Listener
	port int
}

// ListenQUIC listens for QUIC clients on host:port (port 0 picks one) with
// an ephemeral self-signed certificate.
func ListenQUIC(host string, port int) (Listener, error) {
	cert, err := selfSignedCert(host)
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}
	return listenQUIC(host, port, cert)
}

func listenQUIC(host string, port int, cert tls.Certificate) (*quicListener, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve UDP address: %w", err)
	}
	udpConn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	quicConf := &quic.Config{
		MaxIdleTimeout:    30 * time.Second,
		InitialPacketSize: 1200,
	}

	ln, err := tr.Listen(gatewayTLS(cert), quicConf)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("QUIC listen: %w", err)
	}

	return &quicListener{
		tr:   tr,
		ln:   ln,
		port: udpConn.LocalAddr().(*net.UDPAddr).Port,
	}, nil
}

// Port returns the UDP port the listener is bound to.
func (l *quicListener) Port() int {
	return l.port
}

// Accept waits for a client and its frame stream.
func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	qconn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept QUIC connection: %w", err)
	}

	// The stream becomes visible with the client's first frame (its login).
	stream, err := qconn.AcceptStream(ctx)
	if err != nil {
		qconn.CloseWithError(1, "no stream")
		return nil, fmt.Errorf("accept frame stream: %w", err)
	}
	return &quicConn{qconn: qconn, stream: stream}, nil
}

// Close shuts down the listener and underlying transport.
func (l *quicListener) Close() error {
	l.ln.Close()
	return l.tr.Close()
}
