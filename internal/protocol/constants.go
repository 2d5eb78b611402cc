package protocol

import "strconv"

// Magic prefixes every frame.
const Magic = "KIVUPS"

// Header: [6B magic]["%03d" opcode]["%04d" payload length]
const (
	OpcodeWidth = 3
	LengthWidth = 4
	HeaderSize  = len(Magic) + OpcodeWidth + LengthWidth
)

// MaxPayloadSize is the largest length a 4-digit field can carry.
const MaxPayloadSize = 9999

// Delimiter separates the status token and arguments inside a payload.
const Delimiter = ";"

// Opcode identifies the semantic type of a frame.
type Opcode int

const (
	OpLogin         Opcode = 1
	OpJoin          Opcode = 2
	OpMove          Opcode = 3
	OpPlayAgain     Opcode = 4
	OpGameStarted   Opcode = 5
	OpReturnToStart Opcode = 6
	OpGameOver      Opcode = 7
	OpOK            Opcode = 8
	OpError         Opcode = 9
	OpYourTurn      Opcode = 10
	OpPing          Opcode = 11
	OpRecovery      Opcode = 12
	OpPause         Opcode = 13
	OpContinue      Opcode = 14
	OpStatus        Opcode = 15
)

var opcodeNames = map[Opcode]string{
	OpLogin:         "login",
	OpJoin:          "join",
	OpMove:          "move",
	OpPlayAgain:     "play-again",
	OpGameStarted:   "game-started",
	OpReturnToStart: "return-to-start",
	OpGameOver:      "game-over",
	OpOK:            "ok",
	OpError:         "error",
	OpYourTurn:      "your-turn",
	OpPing:          "ping",
	OpRecovery:      "recovery",
	OpPause:         "pause",
	OpContinue:      "continue",
	OpStatus:        "status",
}

// Opcodes lists the whole table in numeric order.
var Opcodes = []Opcode{
	OpLogin, OpJoin, OpMove, OpPlayAgain, OpGameStarted, OpReturnToStart,
	OpGameOver, OpOK, OpError, OpYourTurn, OpPing, OpRecovery, OpPause,
	OpContinue, OpStatus,
}

// GameOpcodes are the opcodes handled by the game-state receiver once login
// has completed.
var GameOpcodes = []Opcode{
	OpJoin, OpMove, OpPlayAgain, OpGameStarted, OpReturnToStart, OpGameOver,
	OpYourTurn, OpPause, OpContinue, OpStatus,
}

// Known reports whether op is part of the opcode table.
func (op Opcode) Known() bool {
	_, ok := opcodeNames[op]
	return ok
}

// Valid reports whether op fits in the 3-digit opcode field.
func (op Opcode) Valid() bool {
	return op >= 0 && op <= 999
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "opcode(" + strconv.Itoa(int(op)) + ")"
}

// Status tokens: the first field of every server payload.
const (
	StatusOK       = "ok"
	StatusErr      = "err"
	StatusGameGone = "gamegone"

	StatusRecoveryLogin                  = "recovery_login"
	StatusRecoveryInLobby                = "recovery_inlobby"
	StatusRecoveryReadyForGame           = "recovery_readyforgame"
	StatusRecoveryInGameYourTurn         = "recovery_ingame_yourturn"
	StatusRecoveryInGameOtherTurn        = "recovery_ingame_otherturn"
	StatusRecoveryInGameGameGone         = "recovery_ingame_gamegone"
	StatusRecoveryInGameOtherPlayedAgain = "recovery_ingame_otherplayagain"
	StatusRecoveryInGameGameOver         = "recovery_ingame_gameover"
)
