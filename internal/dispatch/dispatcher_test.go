package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kivups/kivups-client/internal/protocol"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type readResult struct {
	frame protocol.Frame
	gen   uint64
	err   error
}

// scriptedSource replays queued read results and blocks once the queue is
// empty, the way a live connection waits for the next frame.
type scriptedSource struct {
	reads chan readResult

	mu      sync.Mutex
	gen     uint64
	dropped []uint64
	bumped  chan struct{}
	closed  bool
}

func newScriptedSource(gen uint64) *scriptedSource {
	return &scriptedSource{
		reads:  make(chan readResult, 16),
		gen:    gen,
		bumped: make(chan struct{}),
	}
}

func (s *scriptedSource) push(op protocol.Opcode, payload string, gen uint64) {
	s.reads <- readResult{frame: protocol.Frame{Opcode: op, Payload: []byte(payload)}, gen: gen}
}

func (s *scriptedSource) fail(err error, gen uint64) {
	s.reads <- readResult{err: err, gen: gen}
}

func (s *scriptedSource) Receive() (protocol.Frame, uint64, error) {
	r, ok := <-s.reads
	if !ok {
		return protocol.Frame{}, s.Generation(), errors.New("source closed")
	}
	return r.frame, r.gen, r.err
}

func (s *scriptedSource) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *scriptedSource) Drop(gen uint64) {
	s.mu.Lock()
	s.dropped = append(s.dropped, gen)
	s.mu.Unlock()
}

func (s *scriptedSource) droppedGens() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.dropped...)
}

func (s *scriptedSource) bump() {
	s.mu.Lock()
	s.gen++
	close(s.bumped)
	s.bumped = make(chan struct{})
	s.mu.Unlock()
}

func (s *scriptedSource) shutdown() {
	s.mu.Lock()
	s.closed = true
	close(s.bumped)
	s.bumped = make(chan struct{})
	s.mu.Unlock()
}

var errSourceClosed = errors.New("source shut down")

func (s *scriptedSource) AwaitGeneration(ctx context.Context, after uint64) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return errSourceClosed
		}
		if s.gen > after {
			s.mu.Unlock()
			return nil
		}
		ch := s.bumped
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type recorded struct {
	op     protocol.Opcode
	status string
	args   []string
}

type recorder struct {
	mu   sync.Mutex
	msgs []recorded
	got  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 64)}
}

func (r *recorder) Receive(op protocol.Opcode, status string, args []string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, recorded{op, status, args})
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []recorded {
	t.Helper()
	for range n {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d messages", n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.msgs...)
}

func TestDispatchRoutesByOpcode(t *testing.T) {
	d := New(newScriptedSource(1), quietLogger())
	game := newRecorder()
	ping := newRecorder()
	d.Bind(game, protocol.OpJoin, protocol.OpMove)
	d.Bind(ping, protocol.OpPing)

	msgs := []protocol.Message{
		{Opcode: protocol.OpMove, Status: "ok", Args: []string{"1|0|0--0|0|0--0|0|0"}},
		{Opcode: protocol.OpPing, Status: "ok"},
		{Opcode: protocol.OpJoin, Status: "ok"},
	}
	for _, m := range msgs {
		if err := d.Dispatch(m); err != nil {
			t.Fatalf("dispatch %s: %v", m.Opcode, err)
		}
	}

	g := game.wait(t, 2)
	if g[0].op != protocol.OpMove || g[0].args[0] != "1|0|0--0|0|0--0|0|0" {
		t.Fatalf("first game message = %+v", g[0])
	}
	if g[1].op != protocol.OpJoin {
		t.Fatalf("second game message = %+v", g[1])
	}
	if p := ping.wait(t, 1); p[0].status != "ok" {
		t.Fatalf("ping message = %+v", p[0])
	}
}

func TestDispatchUnboundOpcode(t *testing.T) {
	d := New(newScriptedSource(1), quietLogger())
	d.Bind(newRecorder(), protocol.OpPing)
	d.Unbind(protocol.OpPing)

	err := d.Dispatch(protocol.Message{Opcode: protocol.OpPing, Status: "ok"})
	var re *RoutingError
	if !errors.As(err, &re) {
		t.Fatalf("expected RoutingError, got %v", err)
	}
	if re.Opcode != protocol.OpPing || !errors.Is(err, ErrNoReceiver) {
		t.Fatalf("routing error = %+v", re)
	}
}

func TestDispatchRebind(t *testing.T) {
	d := New(newScriptedSource(1), quietLogger())
	first, second := newRecorder(), newRecorder()
	d.Bind(first, protocol.OpRecovery)
	d.Bind(second, protocol.OpRecovery)

	if err := d.Dispatch(protocol.Message{Opcode: protocol.OpRecovery, Status: "ok"}); err != nil {
		t.Fatal(err)
	}
	second.wait(t, 1)
	if len(first.msgs) != 0 {
		t.Fatal("replaced receiver still got the message")
	}
}

func TestRunDeliversInOrder(t *testing.T) {
	src := newScriptedSource(1)
	d := New(src, quietLogger())
	rec := newRecorder()
	d.Bind(rec, protocol.GameOpcodes...)

	src.push(protocol.OpGameStarted, "ok;bob", 1)
	src.push(protocol.OpYourTurn, "ok", 1)
	src.push(protocol.OpMove, "ok;1|0|0--0|0|0--0|0|0", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	got := rec.wait(t, 3)
	want := []protocol.Opcode{protocol.OpGameStarted, protocol.OpYourTurn, protocol.OpMove}
	for i, op := range want {
		if got[i].op != op {
			t.Fatalf("message %d = %s, want %s", i, got[i].op, op)
		}
	}
	if got[0].args[0] != "bob" {
		t.Fatalf("opponent arg = %q", got[0].args)
	}
}

func TestRunRoutingFaultStopsLoop(t *testing.T) {
	src := newScriptedSource(1)
	d := New(src, quietLogger())
	src.push(protocol.OpStatus, "ok", 1)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrNoReceiver) {
			t.Fatalf("expected ErrNoReceiver, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on routing fault")
	}
}

func TestRunReportsLinkFailureOncePerGeneration(t *testing.T) {
	src := newScriptedSource(1)
	d := New(src, quietLogger())
	rec := newRecorder()
	d.Bind(rec, protocol.OpPing)

	var mu sync.Mutex
	var failures []error
	d.OnLinkFailure(func(gen uint64, err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	src.fail(io.EOF, 1)
	// The loop parks until generation 2 exists; the frame queued for the new
	// connection is only read after that.
	src.fail(io.EOF, 1)
	src.push(protocol.OpPing, "ok", 2)

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	n := len(failures)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("link failures before reconnect = %d, want 1", n)
	}

	src.bump()
	rec.wait(t, 1)

	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 || !errors.Is(failures[0], io.EOF) {
		t.Fatalf("failures = %v", failures)
	}
	if dropped := src.droppedGens(); len(dropped) == 0 || dropped[0] != 1 {
		t.Fatalf("dropped = %v", dropped)
	}
}

func TestRunFramingErrorDropsConnection(t *testing.T) {
	src := newScriptedSource(1)
	d := New(src, quietLogger())
	failed := make(chan error, 1)
	d.OnLinkFailure(func(gen uint64, err error) { failed <- err })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	src.fail(protocol.ErrBadMagic, 1)
	select {
	case err := <-failed:
		if !errors.Is(err, protocol.ErrBadMagic) {
			t.Fatalf("link failure = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("framing error was not reported")
	}
	if dropped := src.droppedGens(); len(dropped) != 1 || dropped[0] != 1 {
		t.Fatalf("dropped = %v", dropped)
	}
}

func TestRunIgnoresStaleGenerationErrors(t *testing.T) {
	src := newScriptedSource(2)
	d := New(src, quietLogger())
	rec := newRecorder()
	d.Bind(rec, protocol.OpPing)
	d.OnLinkFailure(func(gen uint64, err error) { t.Errorf("unexpected link failure on %d: %v", gen, err) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	src.fail(io.ErrClosedPipe, 1)
	src.push(protocol.OpPing, "ok", 2)
	rec.wait(t, 1)

	if dropped := src.droppedGens(); len(dropped) != 0 {
		t.Fatalf("stale error dropped generations %v", dropped)
	}
}

func TestRunReturnsWhenSourceCloses(t *testing.T) {
	src := newScriptedSource(1)
	d := New(src, quietLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	src.fail(io.EOF, 1)
	time.Sleep(20 * time.Millisecond)
	src.shutdown()

	select {
	case err := <-errCh:
		if !errors.Is(err, errSourceClosed) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after source shutdown")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	src := newScriptedSource(1)
	d := New(src, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	src.fail(io.EOF, 1) // park in AwaitGeneration
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
