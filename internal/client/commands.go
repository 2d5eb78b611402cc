package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

// CommandKind is one console command.
type CommandKind int

const (
	CmdNone CommandKind = iota // blank line
	CmdHelp
	CmdJoin
	CmdMove
	CmdAgain
	CmdBack
	CmdReconnect
	CmdStatus
	CmdBoard
	CmdHistory
	CmdQuit
)

// Command is a parsed console line. X and Y are set for CmdMove.
type Command struct {
	Kind CommandKind
	X, Y int
}

var commandNames = map[string]CommandKind{
	"help":       CmdHelp,
	"?":          CmdHelp,
	"join":       CmdJoin,
	"j":          CmdJoin,
	"move":       CmdMove,
	"m":          CmdMove,
	"again":      CmdAgain,
	"play-again": CmdAgain,
	"back":       CmdBack,
	"lobby":      CmdBack,
	"reconnect":  CmdReconnect,
	"r":          CmdReconnect,
	"status":     CmdStatus,
	"board":      CmdBoard,
	"history":    CmdHistory,
	"quit":       CmdQuit,
	"exit":       CmdQuit,
	"q":          CmdQuit,
}

const helpText = `commands:
  join            look for an opponent
  move X Y        place your mark at row X, column Y
  again           play another round with the same opponent
  back            return to the lobby after a game
  reconnect       retry the connection after automatic recovery gave up
  status          show connection and player details
  board           redraw the board
  history         show the latest frames exchanged with the server
  quit            leave
`

// ParseCommand parses one input line. Commands are case-insensitive.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Command{Kind: CmdNone}, nil
	}

	kind, ok := commandNames[fields[0]]
	if !ok {
		return Command{}, fmt.Errorf("%w %q, type help", ErrUnknownCommand, fields[0])
	}

	if kind != CmdMove {
		if len(fields) > 1 {
			return Command{}, fmt.Errorf("%w: %s takes no arguments", ErrUsage, fields[0])
		}
		return Command{Kind: kind}, nil
	}

	// "move 1 2" and "move 1,2" are both accepted.
	args := fields[1:]
	if len(args) == 1 {
		args = strings.Split(args[0], ",")
	}
	if len(args) != 2 {
		return Command{}, fmt.Errorf("%w: move X Y", ErrUsage)
	}
	x, errX := strconv.Atoi(args[0])
	y, errY := strconv.Atoi(args[1])
	if errX != nil || errY != nil {
		return Command{}, fmt.Errorf("%w: move X Y with numeric coordinates", ErrUsage)
	}
	return Command{Kind: CmdMove, X: x, Y: y}, nil
}
