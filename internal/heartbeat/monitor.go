// Package heartbeat probes the server with periodic pings and declares the
// link dead when replies stop arriving.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/kivups/kivups-client/internal/protocol"
)

// Sender is the send half of the transport.
type Sender interface {
	Send(payload string, op protocol.Opcode) error
}

// Config controls probe timing.
type Config struct {
	// Interval between pings.
	Interval time.Duration
	// MaxMissed is how many intervals may pass without a reply before the
	// link is declared dead.
	MaxMissed int
	// RecoverEvery, when positive, sends a recovery request on a ping reply
	// if that many intervals have passed since the last one. Zero disables it.
	RecoverEvery int
}

// DefaultConfig returns the stock probe timing: 3s pings, 3 missed replies.
func DefaultConfig() Config {
	return Config{Interval: 3 * time.Second, MaxMissed: 3}
}

// Threshold is the silence after which the link is declared dead.
func (c Config) Threshold() time.Duration {
	return time.Duration(c.MaxMissed) * c.Interval
}

// Monitor sends pings while online and consumes ping replies as a dispatcher
// receiver. When the link is declared dead it goes offline, calls the
// failure callback once and stops; Resume starts it again.
type Monitor struct {
	cfg Config
	tr  Sender
	log *slog.Logger

	online       *atomic.Bool
	lastReply    *atomic.Int64 // unix nanoseconds
	lastRecovery *atomic.Int64

	mu        sync.Mutex
	cancel    context.CancelFunc
	running   bool
	onFailure func()
}

// New creates a stopped monitor.
func New(tr Sender, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now().UnixNano()
	return &Monitor{
		cfg:          cfg,
		tr:           tr,
		log:          logger.With("component", "heartbeat"),
		online:       atomic.NewBool(false),
		lastReply:    atomic.NewInt64(now),
		lastRecovery: atomic.NewInt64(now),
	}
}

// OnFailure registers the callback fired when the link is declared dead.
// It runs on the monitor goroutine.
func (m *Monitor) OnFailure(fn func()) {
	m.mu.Lock()
	m.onFailure = fn
	m.mu.Unlock()
}

// Resume marks the link online, resets the reply clock and starts a probe
// loop. It does nothing if a loop is already running.
func (m *Monitor) Resume(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	now := time.Now().UnixNano()
	m.lastReply.Store(now)
	m.lastRecovery.Store(now)
	m.online.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	go m.loop(loopCtx)
	m.log.Debug("heartbeat started", "interval", m.cfg.Interval, "max_missed", m.cfg.MaxMissed)
}

// Stop ends the probe loop without reporting a failure. It does not wait for
// the loop goroutine, so it is safe to call from the failure callback.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online.Store(false)
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.running = false
}

// Online reports whether the link is currently considered alive.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Running reports whether a probe loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// LastReply returns the time of the last ping reply (or of the last Resume).
func (m *Monitor) LastReply() time.Time {
	return time.Unix(0, m.lastReply.Load())
}

// SinceLastReply returns how long the server has been silent.
func (m *Monitor) SinceLastReply() time.Duration {
	return time.Since(m.LastReply())
}

// Receive handles ping replies.
func (m *Monitor) Receive(op protocol.Opcode, status string, args []string) {
	if op != protocol.OpPing || status != protocol.StatusOK {
		return
	}
	if m.cfg.RecoverEvery > 0 {
		since := time.Since(time.Unix(0, m.lastRecovery.Load()))
		if since > time.Duration(m.cfg.RecoverEvery)*m.cfg.Interval {
			m.lastRecovery.Store(time.Now().UnixNano())
			if err := m.tr.Send("", protocol.OpRecovery); err != nil {
				m.log.Debug("proactive recovery request failed", "err", err)
			}
		}
	}
	m.lastReply.Store(time.Now().UnixNano())
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for ctx.Err() == nil && m.online.Load() {
		if err := m.tr.Send("", protocol.OpPing); err != nil {
			m.log.Debug("ping send failed", "err", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}

		if silence := m.SinceLastReply(); silence > m.cfg.Threshold() {
			m.fail(ctx, silence)
			return
		}
	}
}

func (m *Monitor) fail(ctx context.Context, silence time.Duration) {
	m.mu.Lock()
	// A Stop or a newer Resume owns the monitor now.
	if ctx.Err() != nil || !m.online.CAS(true, false) {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.cancel = nil
	fn := m.onFailure
	m.mu.Unlock()

	m.log.Warn("link declared dead", "silence", silence.Round(time.Millisecond), "threshold", m.cfg.Threshold())
	if fn != nil {
		fn()
	}
}
