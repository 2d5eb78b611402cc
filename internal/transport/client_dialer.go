package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// dialQUIC connects to a QUIC gateway in front of the game server and opens
// the single bidirectional stream that carries KIVUPS frames.
//
// QUIC does not announce a stream until its first write; the session always
// starts with a login frame, so the gateway sees the stream immediately.
func dialQUIC(ctx context.Context, addr string) (Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	// Use a fresh UDP socket for each connection so a reconnect never
	// inherits state from the previous path.
	udpConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	quicConf := &quic.Config{
		MaxIdleTimeout:    30 * time.Second,
		InitialPacketSize: 1200,
	}

	qconn, err := tr.Dial(ctx, udpAddr, clientTLS(), quicConf)
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("QUIC dial: %w", err)
	}

	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		qconn.CloseWithError(1, "open stream failed")
		tr.Close()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	return &quicConn{
		qconn:  qconn,
		stream: stream,
		tr:     tr,
	}, nil
}
