package game

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/kivups/kivups-client/internal/protocol"
	"github.com/kivups/kivups-client/internal/recovery"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMsg struct {
	payload string
	op      protocol.Opcode
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (r *recordingSender) Send(payload string, op protocol.Opcode) error {
	r.mu.Lock()
	r.sent = append(r.sent, sentMsg{payload, op})
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) last() sentMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return sentMsg{}
	}
	return r.sent[len(r.sent)-1]
}

func newState() (*State, *recordingSender) {
	tr := &recordingSender{}
	return New(tr, 3, quietLogger()), tr
}

func TestGameFlow(t *testing.T) {
	s, tr := newState()

	if err := s.Join(); err != nil {
		t.Fatal(err)
	}
	if tr.last() != (sentMsg{"", protocol.OpJoin}) {
		t.Fatalf("sent %+v", tr.last())
	}

	s.Receive(protocol.OpJoin, "ok", []string{"joined game 1"})
	if s.Snapshot().Phase != Waiting {
		t.Fatalf("phase after join = %s", s.Snapshot().Phase)
	}

	s.Receive(protocol.OpGameStarted, "ok", []string{"bob"})
	snap := s.Snapshot()
	if snap.Phase != OtherTurn || snap.Opponent != "bob" {
		t.Fatalf("after game start: %+v", snap)
	}

	s.Receive(protocol.OpYourTurn, "ok", []string{""})
	if s.Snapshot().Phase != YourTurn {
		t.Fatal("expected your turn")
	}
	if err := s.Move(1, 2); err != nil {
		t.Fatal(err)
	}
	if tr.last() != (sentMsg{"1;2", protocol.OpMove}) {
		t.Fatalf("sent %+v", tr.last())
	}

	s.Receive(protocol.OpMove, "ok", []string{"0|0|0--0|0|1--0|0|0"})
	snap = s.Snapshot()
	if snap.Phase != OtherTurn || snap.Board.At(1, 2) != X {
		t.Fatalf("after move: phase=%s board=%s", snap.Phase, snap.Board)
	}

	s.Receive(protocol.OpGameOver, "ok", []string{"alice"})
	snap = s.Snapshot()
	if snap.Phase != GameOver || snap.Winner != "alice" {
		t.Fatalf("after game over: %+v", snap)
	}

	if err := s.PlayAgain(); err != nil {
		t.Fatal(err)
	}
	s.Receive(protocol.OpPlayAgain, "err", []string{"gamegone"})
	snap = s.Snapshot()
	if snap.Phase != Lobby || snap.Notice != NoticeGameGone || snap.Opponent != "" {
		t.Fatalf("after play-again gamegone: %+v", snap)
	}
}

func TestReturnToStart(t *testing.T) {
	s, tr := newState()
	if err := s.ReturnToStart(); !errors.Is(err, ErrOutOfPhase) {
		t.Fatalf("ReturnToStart in lobby = %v", err)
	}

	s.Receive(protocol.OpGameOver, "ok", []string{"Draw"})
	if err := s.ReturnToStart(); err != nil {
		t.Fatal(err)
	}
	if tr.last().op != protocol.OpReturnToStart {
		t.Fatalf("sent %+v", tr.last())
	}
	s.Receive(protocol.OpReturnToStart, "ok", []string{"left the lobby"})
	if s.Snapshot().Phase != Lobby {
		t.Fatal("expected lobby")
	}
}

func TestJoinGameGone(t *testing.T) {
	s, _ := newState()
	s.Receive(protocol.OpJoin, "ok", nil)
	s.Receive(protocol.OpJoin, "gamegone", nil)
	if s.Snapshot().Phase != Lobby {
		t.Fatal("gamegone should return to lobby")
	}
}

func TestMoveValidation(t *testing.T) {
	s, tr := newState()
	if err := s.Move(0, 0); !errors.Is(err, ErrOutOfPhase) {
		t.Fatalf("move in lobby = %v", err)
	}

	s.Receive(protocol.OpMove, "ok", []string{"1|0|0--0|0|0--0|0|0"})
	s.Receive(protocol.OpYourTurn, "ok", nil)
	if err := s.Move(0, 0); !errors.Is(err, ErrBadMove) {
		t.Fatalf("move onto taken cell = %v", err)
	}
	if err := s.Move(3, 0); !errors.Is(err, ErrBadMove) {
		t.Fatalf("move off board = %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("invalid moves were sent: %+v", tr.sent)
	}
}

func TestServerRefusalBecomesNotice(t *testing.T) {
	s, _ := newState()
	s.Receive(protocol.OpMove, "err", []string{"not your turn", "invalid_op"})
	if s.Snapshot().Notice != "not your turn" {
		t.Fatalf("notice = %q", s.Snapshot().Notice)
	}
}

func TestOpponentNotices(t *testing.T) {
	s, _ := newState()
	for op, want := range map[protocol.Opcode]string{
		protocol.OpPause:    NoticeOpponentPaused,
		protocol.OpContinue: NoticeOpponentContinued,
		protocol.OpStatus:   NoticeOpponentLost,
	} {
		s.Receive(op, "ok", []string{""})
		if got := s.Snapshot().Notice; got != want {
			t.Errorf("%s notice = %q, want %q", op, got, want)
		}
	}
}

func TestOfflineRejectsActions(t *testing.T) {
	s, tr := newState()
	s.Receive(protocol.OpYourTurn, "ok", nil)
	s.Offline()

	snap := s.Snapshot()
	if !snap.Offline || snap.Phase != Lobby {
		t.Fatalf("offline snapshot = %+v", snap)
	}
	for name, action := range map[string]func() error{
		"join":   s.Join,
		"move":   func() error { return s.Move(0, 0) },
		"again":  s.PlayAgain,
		"return": s.ReturnToStart,
	} {
		if err := action(); !errors.Is(err, ErrOffline) {
			t.Errorf("%s while offline = %v", name, err)
		}
	}
	if len(tr.sent) != 0 {
		t.Fatal("action sent while offline")
	}

	s.ManualRetryAvailable()
	if snap := s.Snapshot(); !snap.ManualRetry || !snap.Offline {
		t.Fatalf("manual retry snapshot = %+v", snap)
	}
}

func TestRestoreYourTurn(t *testing.T) {
	s, _ := newState()
	s.Offline()

	board := "1|0|0--0|2|0--0|0|0"
	s.Restore(recovery.Snapshot{Kind: recovery.KindYourTurn, Board: board, Opponent: "Bob"})

	snap := s.Snapshot()
	if snap.Offline || snap.ManualRetry {
		t.Fatal("still offline after restore")
	}
	if snap.Phase != YourTurn || snap.Opponent != "Bob" || snap.Board.String() != board {
		t.Fatalf("restored = %+v board=%s", snap, snap.Board)
	}
	if err := s.Move(2, 2); err != nil {
		t.Fatalf("move after restore: %v", err)
	}
}

func TestRestoreKinds(t *testing.T) {
	board := "1|2|1--2|1|2--0|0|1"
	tests := []struct {
		snap   recovery.Snapshot
		phase  Phase
		winner string
	}{
		{recovery.Snapshot{Kind: recovery.KindInLobby}, Lobby, ""},
		{recovery.Snapshot{Kind: recovery.KindGameGone}, Lobby, ""},
		{recovery.Snapshot{Kind: recovery.KindReadyForGame}, Waiting, ""},
		{recovery.Snapshot{Kind: recovery.KindOtherTurn, Board: board, Opponent: "Bob"}, OtherTurn, ""},
		{recovery.Snapshot{Kind: recovery.KindOtherPlayedAgain, Board: board, Opponent: "Bob"}, Waiting, ""},
		{recovery.Snapshot{Kind: recovery.KindGameOver, Board: board, Opponent: "Bob", Result: "alice"}, GameOver, "alice"},
	}
	for _, tt := range tests {
		s, _ := newState()
		s.Restore(tt.snap)
		snap := s.Snapshot()
		if snap.Phase != tt.phase || snap.Winner != tt.winner {
			t.Errorf("%s: phase=%s winner=%q", tt.snap.Kind, snap.Phase, snap.Winner)
		}
	}
}

func TestSubscribe(t *testing.T) {
	s, _ := newState()
	var got []Phase
	unsubscribe := s.Subscribe(func(snap Snapshot) { got = append(got, snap.Phase) })

	s.Receive(protocol.OpJoin, "ok", nil)
	s.Receive(protocol.OpGameStarted, "ok", []string{"bob"})
	unsubscribe()
	s.Receive(protocol.OpYourTurn, "ok", nil)

	if len(got) != 2 || got[0] != Waiting || got[1] != OtherTurn {
		t.Fatalf("notifications = %v", got)
	}
}

func TestSetBoardSize(t *testing.T) {
	s, _ := newState()
	s.SetBoardSize(5)
	if n := s.Snapshot().Board.Size(); n != 5 {
		t.Fatalf("board size = %d", n)
	}
	s.Receive(protocol.OpGameStarted, "ok", []string{"bob"})
	if n := s.Snapshot().Board.Size(); n != 5 {
		t.Fatalf("fresh game board size = %d", n)
	}
}
