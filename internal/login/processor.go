// Package login performs the initial handshake: send the player name, wait
// for the server's verdict, and learn the board size.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/kivups/kivups-client/internal/protocol"
)

const (
	DefaultBoardSize = 3
	DefaultTimeout   = 10 * time.Second
)

var (
	ErrRejected    = errors.New("login: rejected by server")
	ErrTimeout     = errors.New("login: server did not respond")
	ErrInvalidName = errors.New("login: invalid player name")
)

// LoginError carries the server's reason for refusing a login.
type LoginError struct {
	Opcode protocol.Opcode
	Reason string
}

func (e *LoginError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("login: rejected (%s)", e.Opcode)
	}
	return fmt.Sprintf("login: rejected (%s): %s", e.Opcode, e.Reason)
}

func (e *LoginError) Unwrap() error { return ErrRejected }

// Result is what a successful login established.
type Result struct {
	Name      string
	BoardSize int
	// Recovery is set when the server still holds a session for this name;
	// the client should request a recovery replay once it is ready.
	Recovery bool
}

// Sender is the send half of the transport.
type Sender interface {
	Send(payload string, op protocol.Opcode) error
}

// ValidateName rejects names the server could not parse back.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if _, err := protocol.FormatPayload(name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidName, err)
	}
	return nil
}

// ParseReply interprets a reply to a login request:
//
//	001 ok;...;<size>               logged in
//	001 err;recovery_login;<size>   logged in, server session pending recovery
//	001 err;<reason>                refused
//	009 <status>;<reason>           refused
//
// The board size is the last numeric argument, DefaultBoardSize if none.
func ParseReply(op protocol.Opcode, status string, args []string) (Result, error) {
	switch {
	case op == protocol.OpLogin && status == protocol.StatusOK:
		return Result{BoardSize: boardSize(args)}, nil
	case op == protocol.OpLogin && status == protocol.StatusErr &&
		len(args) > 0 && args[0] == protocol.StatusRecoveryLogin:
		return Result{BoardSize: boardSize(args[1:]), Recovery: true}, nil
	case op == protocol.OpLogin || op == protocol.OpError:
		reason := status
		if len(args) > 0 {
			reason = args[0]
		}
		return Result{}, &LoginError{Opcode: op, Reason: reason}
	}
	return Result{}, fmt.Errorf("login: unexpected %s reply", op)
}

func boardSize(args []string) int {
	for i := len(args) - 1; i >= 0; i-- {
		if n, err := strconv.Atoi(args[i]); err == nil && n > 0 {
			return n
		}
	}
	return DefaultBoardSize
}

// Processor sends one login request and collects its reply as a dispatcher
// receiver bound to the login and error opcodes.
type Processor struct {
	name string
	log  *slog.Logger

	once   sync.Once
	done   chan struct{}
	result Result
	err    error
}

// NewProcessor creates a processor for name.
func NewProcessor(name string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		name: name,
		log:  logger.With("component", "login"),
		done: make(chan struct{}),
	}
}

// Opcodes are the opcodes the processor must be bound to.
var Opcodes = []protocol.Opcode{protocol.OpLogin, protocol.OpError}

// Start sends the login request.
func (p *Processor) Start(tr Sender) error {
	if err := ValidateName(p.name); err != nil {
		return err
	}
	p.log.Info("logging in", "name", p.name)
	return tr.Send(p.name, protocol.OpLogin)
}

// Receive records the first login verdict; later messages are ignored.
func (p *Processor) Receive(op protocol.Opcode, status string, args []string) {
	if op != protocol.OpLogin && op != protocol.OpError {
		return
	}
	p.once.Do(func() {
		res, err := ParseReply(op, status, args)
		if err != nil {
			p.log.Warn("login refused", "err", err)
			p.err = err
		} else {
			res.Name = p.name
			p.result = res
			p.log.Info("logged in", "name", p.name, "board_size", res.BoardSize, "recovery", res.Recovery)
		}
		close(p.done)
	})
}

// Done is closed once a verdict has been received.
func (p *Processor) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the verdict arrives, timeout elapses (ErrTimeout), or
// ctx is done. A non-positive timeout means DefaultTimeout.
func (p *Processor) Wait(ctx context.Context, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.result, p.err
	case <-timer.C:
		return Result{}, fmt.Errorf("%w within %s", ErrTimeout, timeout)
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
