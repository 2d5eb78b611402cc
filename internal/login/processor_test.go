package login

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kivups/kivups-client/internal/protocol"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	payload string
	op      protocol.Opcode
	calls   int
}

func (s *recordingSender) Send(payload string, op protocol.Opcode) error {
	s.payload, s.op = payload, op
	s.calls++
	return nil
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name     string
		op       protocol.Opcode
		payload  string
		size     int
		recovery bool
	}{
		{"size only", protocol.OpLogin, "ok;5", 5, false},
		{"welcome text", protocol.OpLogin, "ok;Welcome alice;4", 4, false},
		{"no size", protocol.OpLogin, "ok;Welcome alice", DefaultBoardSize, false},
		{"relogin", protocol.OpLogin, "err;recovery_login;3", 3, true},
		{"relogin no size", protocol.OpLogin, "err;recovery_login", DefaultBoardSize, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, args := protocol.ParsePayload(tt.payload)
			res, err := ParseReply(tt.op, status, args)
			if err != nil {
				t.Fatal(err)
			}
			if res.BoardSize != tt.size || res.Recovery != tt.recovery {
				t.Fatalf("got %+v", res)
			}
		})
	}
}

func TestParseReplyRejected(t *testing.T) {
	tests := []struct {
		op      protocol.Opcode
		payload string
		reason  string
	}{
		{protocol.OpLogin, "err;Name already taken", "Name already taken"},
		{protocol.OpLogin, "err", "err"},
		{protocol.OpError, "err;Invalid message", "Invalid message"},
	}
	for _, tt := range tests {
		status, args := protocol.ParsePayload(tt.payload)
		_, err := ParseReply(tt.op, status, args)
		var le *LoginError
		if !errors.As(err, &le) {
			t.Fatalf("%q: expected LoginError, got %v", tt.payload, err)
		}
		if le.Reason != tt.reason || le.Opcode != tt.op || !errors.Is(err, ErrRejected) {
			t.Fatalf("%q: got %+v", tt.payload, le)
		}
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName("alice"); err != nil {
		t.Fatal(err)
	}
	for _, bad := range []string{"", "al;ice"} {
		if err := ValidateName(bad); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("ValidateName(%q) = %v", bad, err)
		}
	}
}

func TestProcessorLogin(t *testing.T) {
	p := NewProcessor("alice", quietLogger())
	s := &recordingSender{}
	if err := p.Start(s); err != nil {
		t.Fatal(err)
	}
	if s.op != protocol.OpLogin || s.payload != "alice" {
		t.Fatalf("sent %s %q", s.op, s.payload)
	}

	p.Receive(protocol.OpLogin, "ok", []string{"5"})
	res, err := p.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res != (Result{Name: "alice", BoardSize: 5}) {
		t.Fatalf("result = %+v", res)
	}
}

func TestProcessorFirstVerdictWins(t *testing.T) {
	p := NewProcessor("alice", quietLogger())
	p.Receive(protocol.OpLogin, "err", []string{"recovery_login", "3"})
	p.Receive(protocol.OpError, "err", []string{"late"})

	res, err := p.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Recovery || res.BoardSize != 3 {
		t.Fatalf("result = %+v", res)
	}
}

func TestProcessorRejected(t *testing.T) {
	p := NewProcessor("alice", quietLogger())
	p.Receive(protocol.OpLogin, "err", []string{"Name already taken"})

	_, err := p.Wait(context.Background(), time.Second)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	select {
	case <-p.Done():
	default:
		t.Fatal("Done not closed after verdict")
	}
}

func TestProcessorIgnoresOtherOpcodes(t *testing.T) {
	p := NewProcessor("alice", quietLogger())
	p.Receive(protocol.OpPing, "ok", nil)
	select {
	case <-p.Done():
		t.Fatal("ping completed the login")
	default:
	}
}

func TestProcessorTimeout(t *testing.T) {
	p := NewProcessor("alice", quietLogger())
	_, err := p.Wait(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestProcessorWaitCancel(t *testing.T) {
	p := NewProcessor("alice", quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Wait(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProcessorRefusesBadName(t *testing.T) {
	s := &recordingSender{}
	if err := NewProcessor("a;b", quietLogger()).Start(s); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if s.calls != 0 {
		t.Fatal("invalid name was sent")
	}
}
