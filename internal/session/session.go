// Package session supervises one client connection to a KIVUPS game server:
// it connects, logs in, wires the receivers into the dispatcher, watches the
// link, and hands a dead link to the recovery coordinator.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kivups/kivups-client/internal/config"
	"github.com/kivups/kivups-client/internal/dispatch"
	"github.com/kivups/kivups-client/internal/game"
	"github.com/kivups/kivups-client/internal/heartbeat"
	"github.com/kivups/kivups-client/internal/journal"
	"github.com/kivups/kivups-client/internal/login"
	"github.com/kivups/kivups-client/internal/protocol"
	"github.com/kivups/kivups-client/internal/recovery"
	"github.com/kivups/kivups-client/internal/transport"
)

var (
	ErrLinkLostDuringLogin = errors.New("session: connection lost during login")
	ErrNoPingReplies       = errors.New("session: no ping replies")
)

// ConnectionState is the supervisor's view of the link.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	OfflineRecovering
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case OfflineRecovering:
		return "offline-recovering"
	default:
		return fmt.Sprintf("connection-state(%d)", int(s))
	}
}

// linkEvent is a link failure tagged with the connection generation it was
// observed on. Events from a generation older than the current one are
// discarded.
type linkEvent struct {
	gen uint64
	err error
}

// Session is the client half of a KIVUPS game. Run drives it; the game
// view and Send are for the application.
type Session struct {
	cfg  config.Config
	log  *slog.Logger
	tr   *transport.Transport
	disp *dispatch.Dispatcher
	hb   *heartbeat.Monitor
	rc   *recovery.Coordinator
	game *game.State
	id   *Identity
	jr   *journal.Journal

	linkDown chan linkEvent

	mu          sync.Mutex
	state       ConnectionState
	manualRetry bool
	onState     func(ConnectionState)

	// Ready is closed once the login handshake succeeded and the game
	// receivers are bound.
	Ready chan struct{}
}

// New validates cfg and creates a session. Run must be called exactly once.
func New(cfg config.Config, logger *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := login.ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	mode, err := cfg.DialMode()
	if err != nil {
		return nil, err
	}
	return newSession(cfg, transport.NewDialer(mode, cfg.ConnectTimeout), logger), nil
}

func newSession(cfg config.Config, dialer transport.Dialer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:      cfg,
		log:      logger.With("component", "session"),
		id:       newIdentity(cfg.Name, cfg.Address()),
		jr:       journal.New(journal.DefaultMaxBytes),
		linkDown: make(chan linkEvent, 1),
		Ready:    make(chan struct{}),
	}
	s.tr = transport.New(dialer, logger)
	s.tr.SetObserver(func(sent bool, gen uint64, op protocol.Opcode, payload []byte) {
		dir := journal.Received
		if sent {
			dir = journal.Sent
		}
		s.jr.Record(dir, gen, op, payload)
	})
	s.disp = dispatch.New(s.tr, logger)
	s.hb = heartbeat.New(s.tr, cfg.Heartbeat, logger)
	s.game = game.New(s.tr, login.DefaultBoardSize, logger)
	s.rc = recovery.New(s.tr, s.hb, recoveryView{s}, s.id.Name, cfg.Recovery, logger)

	s.disp.OnLinkFailure(s.signalLinkDown)
	s.hb.OnFailure(func() {
		s.signalLinkDown(s.tr.Generation(), fmt.Errorf("%w for %s", ErrNoPingReplies, cfg.Heartbeat.Threshold()))
	})
	s.rc.OnStateChange(s.recoveryStateChanged)
	return s
}

// Run connects, logs in and supervises the session until ctx is cancelled
// or an unrecoverable error occurs: connect or login failure, or a routing
// fault in the dispatcher. Link failures after login are handled by the
// recovery coordinator and do not end Run.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setState(Connecting)
	s.tr.SetTimeout(s.cfg.ReadTimeout)
	if err := s.tr.Connect(ctx, s.cfg.Address()); err != nil {
		s.setState(Disconnected)
		return err
	}
	// Close unblocks the dispatcher; Stop ends the probe loop.
	defer s.hb.Stop()
	defer s.tr.Close()

	proc := login.NewProcessor(s.id.Name(), s.log)
	s.disp.Bind(proc, login.Opcodes...)

	runErr := make(chan error, 1)
	go func() {
		runErr <- s.disp.Run(ctx)
	}()

	if err := proc.Start(s.tr); err != nil {
		s.setState(Disconnected)
		return err
	}
	res, err := s.awaitLogin(ctx, proc, runErr)
	if err != nil {
		s.setState(Disconnected)
		return err
	}

	s.id.loggedIn(res.BoardSize, res.Recovery)
	s.game.SetBoardSize(res.BoardSize)
	s.bindReceivers()
	s.setState(Connected)
	close(s.Ready)

	s.hb.Resume(ctx)
	if res.Recovery {
		s.log.Info("server kept a previous session, requesting replay")
		if err := s.tr.Send("", protocol.OpRecovery); err != nil {
			s.log.Warn("recovery request failed", "err", err)
		}
	}

	for {
		select {
		case ev := <-s.linkDown:
			s.handleLinkDown(ctx, ev)

		case err := <-runErr:
			s.setState(Disconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err

		case <-ctx.Done():
			s.setState(Disconnected)
			return ctx.Err()
		}
	}
}

func (s *Session) awaitLogin(ctx context.Context, proc *login.Processor, runErr <-chan error) (login.Result, error) {
	loginCtx, cancel := context.WithTimeout(ctx, s.cfg.LoginTimeout)
	defer cancel()

	select {
	case <-proc.Done():
		return proc.Wait(ctx, s.cfg.LoginTimeout)
	case ev := <-s.linkDown:
		return login.Result{}, fmt.Errorf("%w: %w", ErrLinkLostDuringLogin, ev.err)
	case err := <-runErr:
		return login.Result{}, err
	case <-loginCtx.Done():
		if ctx.Err() != nil {
			return login.Result{}, ctx.Err()
		}
		return login.Result{}, fmt.Errorf("%w within %s", login.ErrTimeout, s.cfg.LoginTimeout)
	}
}

// bindReceivers routes every post-login opcode.
func (s *Session) bindReceivers() {
	s.disp.Bind(s.game, protocol.GameOpcodes...)
	s.disp.Bind(s.hb, protocol.OpPing)
	s.disp.Bind(s.rc, protocol.OpRecovery)
	s.disp.Bind(dispatch.ReceiverFunc(s.receiveControl), protocol.OpLogin, protocol.OpOK, protocol.OpError)
}

// receiveControl handles login replies to relogins sent during recovery and
// out-of-band ok/error notices.
func (s *Session) receiveControl(op protocol.Opcode, status string, args []string) {
	switch op {
	case protocol.OpLogin:
		res, err := login.ParseReply(op, status, args)
		if err != nil {
			s.log.Warn("relogin refused", "err", err)
			return
		}
		s.id.loggedIn(res.BoardSize, res.Recovery)
		s.game.SetBoardSize(res.BoardSize)
	case protocol.OpError:
		s.log.Warn("server error", "status", status, "args", args)
	default:
		s.log.Debug("server notice", "opcode", op, "status", status, "args", args)
	}
}

func (s *Session) signalLinkDown(gen uint64, err error) {
	select {
	case s.linkDown <- linkEvent{gen: gen, err: err}:
	default:
		// A report is already pending; it triggers the same recovery.
	}
}

func (s *Session) handleLinkDown(ctx context.Context, ev linkEvent) {
	if cur := s.tr.Generation(); ev.gen < cur {
		s.log.Debug("stale link failure", "generation", ev.gen, "current", cur, "err", ev.err)
		return
	}
	if s.State() != Connected {
		return
	}

	s.log.Warn("link down", "generation", ev.gen, "err", ev.err)
	s.hb.Stop()
	s.id.setRecovering(true)
	s.setState(OfflineRecovering)

	go func() {
		err := s.rc.BeginRecovery(ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, recovery.ErrExhausted):
			s.log.Warn("automatic recovery failed, manual reconnect required")
		default:
			s.log.Warn("recovery stopped", "err", err)
		}
	}()
}

func (s *Session) recoveryStateChanged(st recovery.State) {
	switch st {
	case recovery.Online:
		s.mu.Lock()
		s.manualRetry = false
		s.mu.Unlock()
		s.setState(Connected)
	case recovery.ManualRetryPending:
		s.mu.Lock()
		s.manualRetry = true
		s.mu.Unlock()
	default:
		s.setState(OfflineRecovering)
	}
}

// recoveryView forwards recovery progress to the game view and keeps the
// identity's recovering flag in step.
type recoveryView struct {
	s *Session
}

func (v recoveryView) Offline() {
	v.s.game.Offline()
}

func (v recoveryView) ManualRetryAvailable() {
	v.s.game.ManualRetryAvailable()
}

func (v recoveryView) Restore(snap recovery.Snapshot) {
	v.s.id.setRecovering(false)
	v.s.game.Restore(snap)
}

func (s *Session) setState(st ConnectionState) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = st
	fn := s.onState
	s.mu.Unlock()

	s.log.Info("connection state", "from", prev, "to", st)
	if fn != nil {
		fn(st)
	}
}

// OnStateChange registers fn to observe connection state changes. fn is
// called without session locks held, possibly from several goroutines.
func (s *Session) OnStateChange(fn func(ConnectionState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ManualRetryAvailable reports whether automatic recovery gave up and
// Reconnect is needed.
func (s *Session) ManualRetryAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manualRetry
}

// Reconnect runs one manual recovery attempt.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.rc.Retry(ctx)
}

// RecoveryState exposes the coordinator's progress.
func (s *Session) RecoveryState() recovery.State {
	return s.rc.State()
}

// Identity returns a copy of the session identity.
func (s *Session) Identity() IdentityInfo {
	return s.id.Info()
}

// LinkInfo describes the current transport connection.
type LinkInfo struct {
	Up         bool
	Generation uint64
	Address    string
}

// Link reports whether a connection is installed and which one.
func (s *Session) Link() LinkInfo {
	return LinkInfo{Up: s.tr.Connected(), Generation: s.tr.Generation(), Address: s.tr.Address()}
}

// History returns up to n of the most recent frames sent and received.
func (s *Session) History(n int) []journal.Entry {
	return s.jr.Last(n)
}

// Game returns the game view model.
func (s *Session) Game() *game.State {
	return s.game
}

// Send writes a raw message. Sends made while a reconnect swaps the
// connection are dropped silently.
func (s *Session) Send(payload string, op protocol.Opcode) error {
	return s.tr.Send(payload, op)
}
