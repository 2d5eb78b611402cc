package transport

import (
	"context"
	"fmt"
	"net"
)

// dialTCP connects to the game server over plain TCP.
func dialTCP(ctx context.Context, addr string) (Conn, error) {
	var dialer net.Dialer
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("TCP dial: %w", err)
	}
	if tc, ok := rawConn.(*net.TCPConn); ok {
		// Frames are small and latency matters more than batching.
		tc.SetNoDelay(true)
	}
	return NewConn(rawConn), nil
}
