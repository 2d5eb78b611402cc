package protocol

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

var (
	ErrBadMagic        = errors.New("protocol: bad magic")
	ErrMalformedHeader = errors.New("protocol: malformed header")
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds maximum size")
	ErrInvalidOpcode   = errors.New("protocol: opcode does not fit in 3 digits")
)

// Frame is one complete protocol unit as it travels on the wire.
type Frame struct {
	Opcode  Opcode
	Payload []byte
}

// EncodeFrame returns the wire form of a frame:
// magic + opcode (3 digits) + payload length (4 digits) + payload.
func EncodeFrame(op Opcode, payload []byte) ([]byte, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOpcode, int(op))
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = append(buf, Magic...)
	buf = appendPadded(buf, int(op), OpcodeWidth)
	buf = appendPadded(buf, len(payload), LengthWidth)
	buf = append(buf, payload...)
	return buf, nil
}

// appendPadded appends n as a zero-padded decimal of exactly width digits.
// Callers guarantee n fits.
func appendPadded(buf []byte, n, width int) []byte {
	s := strconv.Itoa(n)
	for i := len(s); i < width; i++ {
		buf = append(buf, '0')
	}
	return append(buf, s...)
}

// WriteFrame encodes a frame and writes it to w with a single Write call, so
// concurrent writers serialized by the caller never interleave partial frames.
func WriteFrame(w io.Writer, op Opcode, payload []byte) error {
	buf, err := EncodeFrame(op, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame from r. Short reads are retried until the
// header and the declared payload have been assembled.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	op, length, err := DecodeHeader(header[:])
	if err != nil {
		return Frame{}, err
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Opcode: op, Payload: payload}, nil
}

// DecodeHeader validates a fixed-size header and returns its opcode and
// declared payload length.
func DecodeHeader(b []byte) (Opcode, int, error) {
	if len(b) != HeaderSize {
		return 0, 0, fmt.Errorf("%w: header is %d bytes", ErrMalformedHeader, len(b))
	}
	if string(b[:len(Magic)]) != Magic {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadMagic, b[:len(Magic)])
	}

	opField := b[len(Magic) : len(Magic)+OpcodeWidth]
	lenField := b[len(Magic)+OpcodeWidth:]

	op, ok := parseDigits(opField)
	if !ok {
		return 0, 0, fmt.Errorf("%w: opcode %q", ErrMalformedHeader, opField)
	}
	length, ok := parseDigits(lenField)
	if !ok {
		return 0, 0, fmt.Errorf("%w: length %q", ErrMalformedHeader, lenField)
	}
	return Opcode(op), length, nil
}

// parseDigits accepts ASCII digits only; strconv.Atoi would also take a sign.
func parseDigits(b []byte) (int, bool) {
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// IsFramingError reports whether err means the byte stream is out of sync
// with the frame boundaries.
func IsFramingError(err error) bool {
	return errors.Is(err, ErrBadMagic) || errors.Is(err, ErrMalformedHeader)
}
