package recovery

import (
	"errors"
	"fmt"

	"github.com/kivups/kivups-client/internal/protocol"
)

var (
	ErrRecoveryRejected  = errors.New("recovery: server rejected recovery request")
	ErrUnknownSubState   = errors.New("recovery: unknown sub-state")
	ErrMalformedRecovery = errors.New("recovery: missing arguments")
)

// Kind is the server-side situation a recovery reply describes.
type Kind int

const (
	KindInLobby Kind = iota
	KindReadyForGame
	KindYourTurn
	KindOtherTurn
	KindGameGone
	KindOtherPlayedAgain
	KindGameOver
)

var kindNames = map[Kind]string{
	KindInLobby:          "in-lobby",
	KindReadyForGame:     "ready-for-game",
	KindYourTurn:         "your-turn",
	KindOtherTurn:        "other-turn",
	KindGameGone:         "game-gone",
	KindOtherPlayedAgain: "other-played-again",
	KindGameOver:         "game-over",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// InGame reports whether the snapshot carries a board and an opponent.
func (k Kind) InGame() bool {
	switch k {
	case KindYourTurn, KindOtherTurn, KindOtherPlayedAgain, KindGameOver:
		return true
	}
	return false
}

// Snapshot is the session state replayed by the server after a recovery
// request. Board is in wire form; Result is set for KindGameOver only.
type Snapshot struct {
	Kind     Kind
	Board    string
	Opponent string
	Result   string
}

var subStates = map[string]Kind{
	protocol.StatusRecoveryInLobby:                KindInLobby,
	protocol.StatusRecoveryReadyForGame:           KindReadyForGame,
	protocol.StatusRecoveryInGameYourTurn:         KindYourTurn,
	protocol.StatusRecoveryInGameOtherTurn:        KindOtherTurn,
	protocol.StatusRecoveryInGameGameGone:         KindGameGone,
	protocol.StatusRecoveryInGameOtherPlayedAgain: KindOtherPlayedAgain,
	protocol.StatusRecoveryInGameGameOver:         KindGameOver,
}

// ParseSnapshot decodes the payload of a recovery reply: status "ok", the
// sub-state as first argument, then its own arguments:
//
//	recovery_ingame_yourturn;<board>;<opponent>
//	recovery_ingame_otherturn;<board>;<opponent>
//	recovery_ingame_otherplayagain;<board>;<opponent>
//	recovery_ingame_gameover;<board>;<result>;<opponent>
//	recovery_inlobby | recovery_readyforgame | recovery_ingame_gamegone
func ParseSnapshot(status string, args []string) (Snapshot, error) {
	if status != protocol.StatusOK {
		if len(args) > 0 {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrRecoveryRejected, args[0])
		}
		return Snapshot{}, ErrRecoveryRejected
	}
	if len(args) == 0 {
		return Snapshot{}, fmt.Errorf("%w: no sub-state", ErrMalformedRecovery)
	}

	kind, ok := subStates[args[0]]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownSubState, args[0])
	}
	rest := args[1:]
	snap := Snapshot{Kind: kind}

	switch kind {
	case KindYourTurn, KindOtherTurn, KindOtherPlayedAgain:
		if len(rest) < 2 {
			return Snapshot{}, fmt.Errorf("%w: %s needs board and opponent", ErrMalformedRecovery, kind)
		}
		snap.Board, snap.Opponent = rest[0], rest[1]
	case KindGameOver:
		if len(rest) < 3 {
			return Snapshot{}, fmt.Errorf("%w: %s needs board, result and opponent", ErrMalformedRecovery, kind)
		}
		snap.Board, snap.Result, snap.Opponent = rest[0], rest[1], rest[2]
	}
	return snap, nil
}
