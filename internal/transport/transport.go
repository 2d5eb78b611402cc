package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/kivups/kivups-client/internal/protocol"
)

var (
	ErrConnect      = errors.New("transport: connect failed")
	ErrSend         = errors.New("transport: send failed")
	ErrNotConnected = errors.New("transport: not connected")
	ErrClosed       = errors.New("transport: closed")
	ErrTimeout      = errors.New("transport: receive timed out")
)

// Transport owns the one connection to the game server. It frames outgoing
// payloads, decodes incoming frames, and swaps the underlying connection on
// Reconnect.
//
// Every installed connection gets a new generation number. Receive reports
// the generation it read from, so a receive loop can tell an error on the
// current connection from the expected error of a connection that was
// already replaced.
//
// Transport is safe for concurrent use: one receiver plus any number of
// senders.
type Transport struct {
	dialer Dialer
	log    *slog.Logger

	mu      sync.Mutex
	addr    string
	conn    Conn
	gen     uint64
	changed chan struct{} // closed and replaced whenever gen advances or the transport closes
	closed  bool
	timeout time.Duration

	suppressed *atomic.Bool
	observe    Observer
}

// Observer sees every frame written or read, with the generation of the
// connection it travelled on. It must not block.
type Observer func(sent bool, gen uint64, op protocol.Opcode, payload []byte)

// New creates a disconnected transport that dials through dialer.
func New(dialer Dialer, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		dialer:     dialer,
		log:        logger.With("component", "transport"),
		changed:    make(chan struct{}),
		suppressed: atomic.NewBool(false),
	}
}

// Connect dials addr and installs the connection. addr is remembered for
// Reconnect.
func (t *Transport) Connect(ctx context.Context, addr string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.addr = addr
	t.mu.Unlock()

	conn, err := t.dialer.Dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnect, addr, err)
	}
	if err := t.install(conn); err != nil {
		conn.Close()
		return err
	}
	t.log.Info("connected", "addr", addr)
	return nil
}

// Reconnect closes the current connection and dials the remembered address
// again. Sends are suppressed while the swap is in progress. On failure the
// transport is left without a connection and the caller is expected to
// retry.
func (t *Transport) Reconnect(ctx context.Context) error {
	t.suppressed.Store(true)
	defer t.suppressed.Store(false)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	addr := t.addr
	old := t.conn
	t.conn = nil
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if addr == "" {
		return fmt.Errorf("%w: no address, call Connect first", ErrConnect)
	}

	conn, err := t.dialer.Dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnect, addr, err)
	}
	if err := t.install(conn); err != nil {
		conn.Close()
		return err
	}
	t.log.Info("reconnected", "addr", addr, "generation", t.Generation())
	return nil
}

// install makes conn the current connection and advances the generation.
func (t *Transport) install(conn Conn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.gen++
	t.broadcastLocked()
	return nil
}

func (t *Transport) broadcastLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// Send frames payload with op and writes it. While sends are suppressed the
// call is a silent no-op: callers must not assume every call reaches the
// wire.
func (t *Transport) Send(payload string, op protocol.Opcode) error {
	if t.suppressed.Load() {
		t.log.Debug("send suppressed", "opcode", op)
		return nil
	}

	t.mu.Lock()
	conn, gen, observe := t.conn, t.gen, t.observe
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: %w", ErrSend, ErrNotConnected)
	}

	if err := conn.WriteFrame(op, []byte(payload)); err != nil {
		if errors.Is(err, protocol.ErrPayloadTooLarge) || errors.Is(err, protocol.ErrInvalidOpcode) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrSend, op, err)
	}
	t.log.Debug("sent", "opcode", op, "payload", payload)
	if observe != nil {
		observe(true, gen, op, []byte(payload))
	}
	return nil
}

// SetObserver installs fn to see every frame; nil removes it.
func (t *Transport) SetObserver(fn Observer) {
	t.mu.Lock()
	t.observe = fn
	t.mu.Unlock()
}

// Receive blocks until a frame arrives on the current connection and returns
// it with the generation of the connection it was read from. A closed or
// replaced connection surfaces as an error tagged with its old generation.
func (t *Transport) Receive() (protocol.Frame, uint64, error) {
	t.mu.Lock()
	conn, gen, timeout, closed, observe := t.conn, t.gen, t.timeout, t.closed, t.observe
	t.mu.Unlock()

	if closed {
		return protocol.Frame{}, gen, ErrClosed
	}
	if conn == nil {
		return protocol.Frame{}, gen, ErrNotConnected
	}

	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		conn.SetReadDeadline(time.Time{})
	}

	f, err := conn.ReadFrame()
	if err != nil {
		if isTimeout(err) {
			return protocol.Frame{}, gen, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return protocol.Frame{}, gen, err
	}
	t.log.Debug("received", "opcode", f.Opcode, "payload", string(f.Payload))
	if observe != nil {
		observe(false, gen, f.Opcode, f.Payload)
	}
	return f, gen, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// SetTimeout bounds how long a single Receive may block. Zero disables the
// bound.
func (t *Transport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	t.timeout = d
	t.mu.Unlock()
}

// Drop closes the connection of generation gen if it is still current.
// Used when the stream is known to be desynchronized.
func (t *Transport) Drop(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || t.conn == nil {
		return
	}
	t.conn.Close()
	t.conn = nil
}

// AwaitGeneration blocks until a connection newer than after is installed,
// the transport is closed, or ctx is done.
func (t *Transport) AwaitGeneration(ctx context.Context, after uint64) error {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return ErrClosed
		}
		if t.gen > after && t.conn != nil {
			t.mu.Unlock()
			return nil
		}
		ch := t.changed
		t.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Generation returns the generation of the most recently installed
// connection (0 before the first Connect).
func (t *Transport) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

// Connected reports whether a connection is currently installed.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Address returns the address passed to Connect.
func (t *Transport) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addr
}

// Close closes the current connection and makes every later call fail with
// ErrClosed. Blocked Receive and AwaitGeneration calls return.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.broadcastLocked()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
