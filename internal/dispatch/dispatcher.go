// Package dispatch runs the single receive loop of a session and routes each
// decoded message to the one receiver bound to its opcode.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kivups/kivups-client/internal/protocol"
)

// ErrNoReceiver marks a message whose opcode has no bound receiver.
var ErrNoReceiver = errors.New("dispatch: no receiver bound")

// Receiver consumes messages routed by the dispatcher. Receive is called
// from the dispatcher goroutine, one message at a time, in arrival order;
// it must not block on network replies.
type Receiver interface {
	Receive(op protocol.Opcode, status string, args []string)
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(op protocol.Opcode, status string, args []string)

func (f ReceiverFunc) Receive(op protocol.Opcode, status string, args []string) {
	f(op, status, args)
}

// RoutingError reports a message that arrived for an opcode nobody is bound
// to. It indicates a misconfigured binding table or a protocol sequencing
// bug, not a network problem.
type RoutingError struct {
	Opcode protocol.Opcode
	Status string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("dispatch: no receiver bound for opcode %03d (%s), status %q",
		int(e.Opcode), e.Opcode, e.Status)
}

func (e *RoutingError) Unwrap() error { return ErrNoReceiver }

// Source is the frame supply the loop reads from. *transport.Transport
// satisfies it.
type Source interface {
	Receive() (protocol.Frame, uint64, error)
	Generation() uint64
	Drop(gen uint64)
	AwaitGeneration(ctx context.Context, after uint64) error
}

// Dispatcher owns the receive loop and the opcode → receiver table.
type Dispatcher struct {
	src Source
	log *slog.Logger

	mu       sync.RWMutex
	bindings map[protocol.Opcode]Receiver
	linkDown func(gen uint64, err error)
}

// New creates a dispatcher with an empty binding table.
func New(src Source, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		src:      src,
		log:      logger.With("component", "dispatcher"),
		bindings: make(map[protocol.Opcode]Receiver),
	}
}

// Bind makes r the receiver for every opcode in ops, replacing whatever was
// bound before. Safe to call from inside a Receive callback.
func (d *Dispatcher) Bind(r Receiver, ops ...protocol.Opcode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range ops {
		d.bindings[op] = r
	}
}

// Unbind removes the receivers for ops.
func (d *Dispatcher) Unbind(ops ...protocol.Opcode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range ops {
		delete(d.bindings, op)
	}
}

// Bound returns the receiver currently bound to op.
func (d *Dispatcher) Bound(op protocol.Opcode) (Receiver, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.bindings[op]
	return r, ok
}

// OnLinkFailure registers fn to be told when the current connection fails
// (read error, framing error). fn runs on the dispatcher goroutine and must
// return promptly; it is called at most once per connection generation.
func (d *Dispatcher) OnLinkFailure(fn func(gen uint64, err error)) {
	d.mu.Lock()
	d.linkDown = fn
	d.mu.Unlock()
}

// Dispatch routes msg to its bound receiver synchronously.
func (d *Dispatcher) Dispatch(msg protocol.Message) error {
	r, ok := d.Bound(msg.Opcode)
	if !ok {
		return &RoutingError{Opcode: msg.Opcode, Status: msg.Status}
	}
	r.Receive(msg.Opcode, msg.Status, msg.Args)
	return nil
}

// Run reads and dispatches frames until ctx is cancelled, the source is
// closed, or a routing fault occurs. Connection failures do not end the
// loop: the failed connection is dropped, the link-failure callback fires,
// and the loop parks until a newer connection is installed.
func (d *Dispatcher) Run(ctx context.Context) error {
	var reported uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, gen, err := d.src.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if gen < d.src.Generation() {
				// Error from a connection that has already been replaced.
				continue
			}
			if protocol.IsFramingError(err) {
				d.log.Warn("protocol desynchronized, dropping connection", "generation", gen, "err", err)
			} else {
				d.log.Debug("receive failed", "generation", gen, "err", err)
			}
			d.src.Drop(gen)
			if gen != reported {
				reported = gen
				d.notifyLinkDown(gen, err)
			}
			if err := d.src.AwaitGeneration(ctx, gen); err != nil {
				return err
			}
			continue
		}

		msg := protocol.DecodeMessage(f)
		if err := d.Dispatch(msg); err != nil {
			d.log.Error("routing fault", "opcode", f.Opcode, "payload", string(f.Payload))
			return err
		}
	}
}

func (d *Dispatcher) notifyLinkDown(gen uint64, err error) {
	d.mu.RLock()
	fn := d.linkDown
	d.mu.RUnlock()
	if fn != nil {
		fn(gen, err)
	}
}
