package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kivups/kivups-client/internal/protocol"
)

// DialMode selects which transport to use when dialing.
type DialMode int

const (
	DialTCP DialMode = iota
	DialQUIC
	DialWS
)

func (m DialMode) String() string {
	switch m {
	case DialTCP:
		return "tcp"
	case DialQUIC:
		return "quic"
	case DialWS:
		return "ws"
	default:
		return "unknown"
	}
}

// ParseDialMode maps a configuration value to a DialMode. Empty means TCP.
func ParseDialMode(s string) (DialMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tcp":
		return DialTCP, nil
	case "quic":
		return DialQUIC, nil
	case "ws", "websocket":
		return DialWS, nil
	default:
		return 0, fmt.Errorf("unknown transport mode %q", s)
	}
}

// Conn is one established byte stream carrying KIVUPS frames.
// The TCP, QUIC and WebSocket implementations satisfy this interface.
// ReadFrame is called by a single reader; WriteFrame may be called
// concurrently and is serialized by the implementation.
type Conn interface {
	ReadFrame() (protocol.Frame, error)
	WriteFrame(op protocol.Opcode, payload []byte) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// Dialer opens a new Conn to addr ("host:port").
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, addr string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (Conn, error) {
	return f(ctx, addr)
}

// NewDialer returns the dialer for mode. connectTimeout bounds each dial
// attempt; zero means no limit beyond the caller's context.
func NewDialer(mode DialMode, connectTimeout time.Duration) Dialer {
	return DialerFunc(func(ctx context.Context, addr string) (Conn, error) {
		if connectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, connectTimeout)
			defer cancel()
		}
		switch mode {
		case DialQUIC:
			return dialQUIC(ctx, addr)
		case DialWS:
			return dialWS(ctx, addr)
		default:
			return dialTCP(ctx, addr)
		}
	})
}
