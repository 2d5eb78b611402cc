// Package recovery brings a session back after the link was declared dead:
// reconnect, log in again under the same name, ask the server to replay the
// session state, and hand that state to the view.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kivups/kivups-client/internal/protocol"
)

var (
	ErrInProgress  = errors.New("recovery: already in progress")
	ErrExhausted   = errors.New("recovery: automatic attempts exhausted")
	ErrNotPending  = errors.New("recovery: no manual retry pending")
	ErrRetryFailed = errors.New("recovery: manual retry failed")
)

// State is the coordinator's position in the recovery sequence.
type State int

const (
	Online State = iota
	Offline
	Reconnecting
	LoggingIn
	AwaitingRecoveryReply
	ManualRetryPending
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	case Reconnecting:
		return "reconnecting"
	case LoggingIn:
		return "logging-in"
	case AwaitingRecoveryReply:
		return "awaiting-recovery-reply"
	case ManualRetryPending:
		return "manual-retry-pending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport is what the coordinator needs from the connection.
type Transport interface {
	Reconnect(ctx context.Context) error
	Send(payload string, op protocol.Opcode) error
}

// Heartbeat is restarted once the session is back online.
type Heartbeat interface {
	Resume(ctx context.Context)
}

// View is the application surface told about recovery progress.
type View interface {
	// Offline disables user actions and shows that a reconnect is running.
	Offline()
	// ManualRetryAvailable is called when automatic attempts ran out.
	ManualRetryAvailable()
	// Restore replays server-side state after a successful recovery.
	Restore(Snapshot)
}

// Config controls retry pacing.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultConfig returns 5 attempts, 3s apart.
func DefaultConfig() Config {
	return Config{Interval: 3 * time.Second, MaxAttempts: 5}
}

// Coordinator runs the recovery sequence and receives recovery replies from
// the dispatcher.
//
// Lock order: run before mu. Neither is held while the coordinator waits on
// the network or on a reply.
type Coordinator struct {
	cfg  Config
	tr   Transport
	hb   Heartbeat
	view View
	name func() string
	log  *slog.Logger

	// run admits one recovery sequence at a time.
	run sync.Mutex

	mu       sync.Mutex
	state    State
	attempts int
	onChange func(State)

	// finished carries the number of the attempt a reply answered.
	finished chan int
}

// New creates an Online coordinator. name returns the player name used to
// log in again.
func New(tr Transport, hb Heartbeat, view View, name func() string, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		tr:       tr,
		hb:       hb,
		view:     view,
		name:     name,
		log:      logger.With("component", "recovery"),
		state:    Online,
		finished: make(chan int, 1),
	}
}

// OnStateChange registers fn to observe state transitions. fn is called
// without any coordinator lock held.
func (c *Coordinator) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of reconnect attempts in the current sequence.
func (c *Coordinator) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// InProgress reports whether a recovery sequence or manual retry is running.
func (c *Coordinator) InProgress() bool {
	if c.run.TryLock() {
		c.run.Unlock()
		return false
	}
	return true
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fn := c.onChange
	c.mu.Unlock()

	c.log.Debug("state", "state", s)
	if fn != nil {
		fn(s)
	}
}

// BeginRecovery runs the automatic sequence: up to MaxAttempts reconnects,
// Interval apart. It returns nil once the server replayed the session,
// ErrExhausted when every attempt failed, and ErrInProgress if another
// sequence is already running.
func (c *Coordinator) BeginRecovery(ctx context.Context) error {
	if !c.run.TryLock() {
		c.log.Debug("recovery already running")
		return ErrInProgress
	}
	defer c.run.Unlock()

	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
	c.drainFinished()

	c.setState(Offline)
	c.view.Offline()
	c.log.Info("link lost, starting recovery", "max_attempts", c.cfg.MaxAttempts, "interval", c.cfg.Interval)

	for i := 1; i <= c.cfg.MaxAttempts; i++ {
		// The wait before each attempt doubles as the reply window of the
		// previous one.
		if c.awaitReply(ctx) {
			c.goOnline(ctx)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		c.log.Info("recovery attempt", "attempt", i, "of", c.cfg.MaxAttempts)
		c.attempt(ctx)
	}
	if c.awaitReply(ctx) {
		c.goOnline(ctx)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.setState(ManualRetryPending)
	c.view.ManualRetryAvailable()
	c.log.Warn("automatic recovery failed", "attempts", c.Attempts())
	return ErrExhausted
}

// Retry runs a single reconnect attempt after automatic recovery gave up.
func (c *Coordinator) Retry(ctx context.Context) error {
	if !c.run.TryLock() {
		return ErrInProgress
	}
	defer c.run.Unlock()

	if c.State() != ManualRetryPending {
		return ErrNotPending
	}
	c.drainFinished()
	c.log.Info("manual recovery attempt")

	c.attempt(ctx)
	if c.awaitReply(ctx) {
		c.goOnline(ctx)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.setState(ManualRetryPending)
	c.view.ManualRetryAvailable()
	return ErrRetryFailed
}

// attempt reconnects and re-sends login and recovery request. It leaves the
// coordinator in AwaitingRecoveryReply on success.
func (c *Coordinator) attempt(ctx context.Context) {
	c.drainFinished()
	c.mu.Lock()
	c.attempts++
	n := c.attempts
	c.mu.Unlock()

	c.setState(Reconnecting)
	if err := c.tr.Reconnect(ctx); err != nil {
		c.log.Info("reconnect failed", "attempt", n, "err", err)
		return
	}

	c.setState(LoggingIn)
	if err := c.tr.Send(c.name(), protocol.OpLogin); err != nil {
		c.log.Info("login send failed", "attempt", n, "err", err)
		return
	}
	// Waiting state is entered before the request goes out so the reply
	// cannot race past it.
	c.setState(AwaitingRecoveryReply)
	if err := c.tr.Send("", protocol.OpRecovery); err != nil {
		c.log.Info("recovery request failed", "attempt", n, "err", err)
		c.setState(Reconnecting)
	}
}

// awaitReply waits one Interval. It returns true as soon as a recovery reply
// for the current attempt arrives; replies to earlier attempts are dropped.
func (c *Coordinator) awaitReply(ctx context.Context) bool {
	timer := time.NewTimer(c.cfg.Interval)
	defer timer.Stop()

	c.mu.Lock()
	waiting, current := c.state == AwaitingRecoveryReply, c.attempts
	c.mu.Unlock()

	if !waiting {
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		return false
	}
	for {
		select {
		case n := <-c.finished:
			if n == current {
				return true
			}
			c.log.Debug("dropping late recovery reply", "attempt", n, "current", current)
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (c *Coordinator) drainFinished() {
	select {
	case <-c.finished:
	default:
	}
}

func (c *Coordinator) goOnline(ctx context.Context) {
	c.mu.Lock()
	attempts := c.attempts
	c.attempts = 0
	c.mu.Unlock()

	c.setState(Online)
	c.hb.Resume(ctx)
	c.log.Info("session recovered", "attempts", attempts)
}

// Receive handles recovery replies. Any valid reply is replayed into the
// view; one that answers a pending attempt also completes the sequence.
func (c *Coordinator) Receive(op protocol.Opcode, status string, args []string) {
	if op != protocol.OpRecovery {
		return
	}
	snap, err := ParseSnapshot(status, args)
	if err != nil {
		c.log.Warn("bad recovery reply", "status", status, "args", args, "err", err)
		return
	}

	c.mu.Lock()
	if c.state == AwaitingRecoveryReply {
		c.drainFinished()
		c.finished <- c.attempts
	}
	c.mu.Unlock()
	c.log.Info("recovery reply", "kind", snap.Kind, "opponent", snap.Opponent)
	c.view.Restore(snap)
}
