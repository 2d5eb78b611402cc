package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDelimiterInArg is returned when an outbound argument contains the
// payload delimiter. The protocol has no escaping, so such a value would be
// split into extra arguments by the server.
var ErrDelimiterInArg = errors.New("protocol: argument contains delimiter")

// Message is the logical view of a frame: a status token followed by
// ordered arguments.
type Message struct {
	Opcode Opcode
	Status string
	Args   []string
}

// Arg returns the i-th argument, or "" when the server sent fewer.
func (m Message) Arg(i int) string {
	if i < 0 || i >= len(m.Args) {
		return ""
	}
	return m.Args[i]
}

// ParsePayload splits a payload into its status token and arguments.
// An empty payload yields an empty status and no arguments.
func ParsePayload(payload string) (status string, args []string) {
	parts := strings.Split(payload, Delimiter)
	return parts[0], parts[1:]
}

// DecodeMessage interprets a frame's payload.
func DecodeMessage(f Frame) Message {
	status, args := ParsePayload(string(f.Payload))
	return Message{Opcode: f.Opcode, Status: status, Args: args}
}

// FormatPayload joins arguments with the delimiter. It refuses arguments that
// contain the delimiter instead of silently producing a different message.
func FormatPayload(args ...string) (string, error) {
	for i, a := range args {
		if strings.Contains(a, Delimiter) {
			return "", fmt.Errorf("%w: argument %d (%q)", ErrDelimiterInArg, i, a)
		}
	}
	return strings.Join(args, Delimiter), nil
}
