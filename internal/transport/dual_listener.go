package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrListenerClosed is returned by Accept on a merged listener after Close.
var ErrListenerClosed = errors.New("transport: listener closed")

// mergedListener fans several listeners into one Accept. Port reports the
// first listener's port.
type mergedListener struct {
	parts     []Listener
	conns     chan Conn
	done      chan struct{}
	exhausted chan struct{} // closed once every part has stopped
	once      sync.Once

	errMu  sync.Mutex
	errs   []error
}

// Merge accepts from every listener in ls. A listener that fails stops
// contributing; Accept reports the failure only once all of them failed.
func Merge(ls ...Listener) Listener {
	m := &mergedListener{
		parts:     ls,
		conns:     make(chan Conn),
		done:      make(chan struct{}),
		exhausted: make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, l := range ls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.pump(ctx, l)
		}()
	}
	go func() {
		wg.Wait()
		close(m.exhausted)
	}()
	go func() {
		<-m.done
		cancel()
	}()
	return m
}

func (m *mergedListener) pump(ctx context.Context, l Listener) {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			m.errMu.Lock()
			m.errs = append(m.errs, err)
			m.errMu.Unlock()
			return
		}
		select {
		case m.conns <- conn:
		case <-m.done:
			conn.Close()
			return
		}
	}
}

// Accept returns the next connection from any of the merged listeners.
func (m *mergedListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-m.conns:
		return conn, nil
	case <-m.done:
		return nil, ErrListenerClosed
	case <-m.exhausted:
		m.errMu.Lock()
		defer m.errMu.Unlock()
		return nil, errors.Join(m.errs...)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *mergedListener) Port() int {
	return m.parts[0].Port()
}

func (m *mergedListener) Close() error {
	m.once.Do(func() { close(m.done) })
	var errs []error
	for _, l := range m.parts {
		errs = append(errs, l.Close())
	}
	return errors.Join(errs...)
}

// ListenDual serves QUIC and TCP on host and one port number, so a test
// game server answers both dial modes. UDP is bound first; port 0 lets it
// pick the number TCP then reuses.
func ListenDual(host string, port int) (Listener, error) {
	q, err := ListenQUIC(host, port)
	if err != nil {
		return nil, err
	}
	t, err := listenTCP(host, q.Port())
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("TCP on port %d: %w", q.Port(), err)
	}
	return Merge(q, t), nil
}
