// Package game holds the client's view of the lobby and the running match.
// It is the receiver for game opcodes and the surface the recovery
// coordinator replays server state into; a UI renders its snapshots and
// calls its actions.
package game

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/kivups/kivups-client/internal/protocol"
	"github.com/kivups/kivups-client/internal/recovery"
)

var (
	ErrOffline    = errors.New("game: connection offline")
	ErrOutOfPhase = errors.New("game: action not allowed now")
	ErrBadMove    = errors.New("game: illegal move")
)

// Phase is where the player is in the lobby/match cycle.
type Phase int

const (
	Lobby Phase = iota
	Waiting
	YourTurn
	OtherTurn
	GameOver
)

func (p Phase) String() string {
	switch p {
	case Lobby:
		return "lobby"
	case Waiting:
		return "waiting"
	case YourTurn:
		return "your-turn"
	case OtherTurn:
		return "other-turn"
	case GameOver:
		return "game-over"
	default:
		return "phase(" + strconv.Itoa(int(p)) + ")"
	}
}

const (
	NoticeOpponentPaused    = "Other player disconnected, waiting for reconnection"
	NoticeOpponentContinued = "Other player reconnected, can continue"
	NoticeOpponentLost      = "Opponent has lost connection."
	NoticeGameGone          = "Game doesn't exist anymore (other player left?), returning to lobby"
)

// Snapshot is an immutable copy of the view state.
type Snapshot struct {
	Phase    Phase
	Board    Board
	Opponent string
	// Winner is the server's result text once the game is over: a player
	// name or "Draw".
	Winner string
	// Notice is the latest informational message (opponent status, errors).
	Notice      string
	Offline     bool
	ManualRetry bool
}

// Sender is the send half of the transport.
type Sender interface {
	Send(payload string, op protocol.Opcode) error
}

// State is the game view model. All methods are safe for concurrent use.
type State struct {
	tr  Sender
	log *slog.Logger

	mu          sync.Mutex
	size        int
	phase       Phase
	board       Board
	opponent    string
	winner      string
	notice      string
	offline     bool
	manualRetry bool
	subs        map[int]func(Snapshot)
	nextSub     int
}

// New creates a lobby view for a board of the given size.
func New(tr Sender, size int, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		tr:    tr,
		log:   logger.With("component", "game"),
		size:  size,
		board: NewBoard(size),
		subs:  make(map[int]func(Snapshot)),
	}
}

// SetBoardSize changes the size used for fresh boards.
func (s *State) SetBoardSize(size int) {
	s.mu.Lock()
	s.size = size
	if s.phase == Lobby {
		s.board = NewBoard(size)
	}
	s.mu.Unlock()
}

// Subscribe registers fn to receive a snapshot after every change. fn is
// called without the state lock held. The returned func unsubscribes.
func (s *State) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:       s.phase,
		Board:       s.board.Clone(),
		Opponent:    s.opponent,
		Winner:      s.winner,
		Notice:      s.notice,
		Offline:     s.offline,
		ManualRetry: s.manualRetry,
	}
}

// update applies fn under the lock and notifies subscribers.
func (s *State) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, f := range s.subs {
		subs = append(subs, f)
	}
	s.mu.Unlock()

	for _, f := range subs {
		f(snap)
	}
}

func (s *State) toLobbyLocked() {
	s.phase = Lobby
	s.board = NewBoard(s.size)
	s.opponent = ""
	s.winner = ""
}

func (s *State) setBoardLocked(wire string) {
	b, err := ParseBoard(wire)
	if err != nil {
		s.log.Warn("bad board from server", "board", wire, "err", err)
		return
	}
	s.board = b
}

// Receive handles the game opcodes.
func (s *State) Receive(op protocol.Opcode, status string, args []string) {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	if status != protocol.StatusOK {
		switch {
		case op == protocol.OpJoin && status == protocol.StatusGameGone:
			s.update(s.toLobbyLocked)
		case (op == protocol.OpPlayAgain || op == protocol.OpReturnToStart) &&
			status == protocol.StatusErr && arg(0) == protocol.StatusGameGone:
			s.update(func() {
				s.toLobbyLocked()
				if op == protocol.OpPlayAgain {
					s.notice = NoticeGameGone
				}
			})
		default:
			s.log.Info("server refused", "opcode", op, "status", status, "reason", arg(0))
			s.update(func() { s.notice = arg(0) })
		}
		return
	}

	switch op {
	case protocol.OpJoin, protocol.OpPlayAgain:
		s.update(func() { s.phase = Waiting })
	case protocol.OpGameStarted:
		s.update(func() {
			s.phase = OtherTurn
			s.opponent = arg(0)
			s.winner = ""
			s.notice = ""
			s.board = NewBoard(s.size)
		})
	case protocol.OpMove:
		s.update(func() {
			s.setBoardLocked(arg(0))
			s.phase = OtherTurn
		})
	case protocol.OpYourTurn:
		s.update(func() { s.phase = YourTurn })
	case protocol.OpGameOver:
		s.update(func() {
			s.phase = GameOver
			s.winner = arg(0)
		})
	case protocol.OpReturnToStart:
		s.update(s.toLobbyLocked)
	case protocol.OpPause:
		s.update(func() { s.notice = NoticeOpponentPaused })
	case protocol.OpContinue:
		s.update(func() { s.notice = NoticeOpponentContinued })
	case protocol.OpStatus:
		s.update(func() { s.notice = NoticeOpponentLost })
	default:
		s.log.Debug("ignored", "opcode", op)
	}
}

// Offline puts the view into its reconnecting state: back to the lobby
// screen with every action disabled.
func (s *State) Offline() {
	s.update(func() {
		s.toLobbyLocked()
		s.offline = true
		s.manualRetry = false
		s.notice = "Connection is offline... Trying to reconnect"
	})
}

// ManualRetryAvailable shows that automatic reconnecting gave up.
func (s *State) ManualRetryAvailable() {
	s.update(func() {
		s.offline = true
		s.manualRetry = true
		s.notice = "Automatic reconnect failed. Use reconnect to try manually."
	})
}

// Restore replays server-side session state after a recovery.
func (s *State) Restore(snap recovery.Snapshot) {
	s.update(func() {
		s.offline = false
		s.manualRetry = false
		s.notice = ""

		switch snap.Kind {
		case recovery.KindInLobby, recovery.KindGameGone:
			s.toLobbyLocked()
			return
		case recovery.KindReadyForGame:
			s.toLobbyLocked()
			s.phase = Waiting
			return
		}

		s.setBoardLocked(snap.Board)
		s.opponent = snap.Opponent
		switch snap.Kind {
		case recovery.KindYourTurn:
			s.phase = YourTurn
		case recovery.KindOtherTurn:
			s.phase = OtherTurn
		case recovery.KindOtherPlayedAgain:
			s.phase = Waiting
		case recovery.KindGameOver:
			s.phase = GameOver
			s.winner = snap.Result
		}
	})
}

// check verifies the view is online and in one of the allowed phases.
func (s *State) check(allowed ...Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return ErrOffline
	}
	for _, p := range allowed {
		if s.phase == p {
			return nil
		}
	}
	return fmt.Errorf("%w: in %s", ErrOutOfPhase, s.phase)
}

// Join asks the server for a match.
func (s *State) Join() error {
	if err := s.check(Lobby); err != nil {
		return err
	}
	return s.tr.Send("", protocol.OpJoin)
}

// Move places the local player's mark at row x, column y.
func (s *State) Move(x, y int) error {
	if err := s.check(YourTurn); err != nil {
		return err
	}
	s.mu.Lock()
	b := s.board
	s.mu.Unlock()
	if !b.InBounds(x, y) {
		return fmt.Errorf("%w: (%d,%d) outside %dx%d board", ErrBadMove, x, y, b.Size(), b.Size())
	}
	if b.At(x, y) != Empty {
		return fmt.Errorf("%w: (%d,%d) is taken", ErrBadMove, x, y)
	}
	payload, err := protocol.FormatPayload(strconv.Itoa(x), strconv.Itoa(y))
	if err != nil {
		return err
	}
	return s.tr.Send(payload, protocol.OpMove)
}

// PlayAgain asks for a rematch against the same opponent.
func (s *State) PlayAgain() error {
	if err := s.check(GameOver); err != nil {
		return err
	}
	return s.tr.Send("", protocol.OpPlayAgain)
}

// ReturnToStart leaves a finished game for the lobby.
func (s *State) ReturnToStart() error {
	if err := s.check(GameOver); err != nil {
		return err
	}
	return s.tr.Send("", protocol.OpReturnToStart)
}
