// Package journal keeps the most recent KIVUPS frames a session sent and
// received, for the console's history view and for diagnostics after a
// recovery.
package journal

import (
	"fmt"
	"sync"
	"time"

	"github.com/kivups/kivups-client/internal/protocol"
)

const DefaultMaxBytes = 64 * 1024

// Direction tells whether a frame was sent or received.
type Direction int

const (
	Sent Direction = iota
	Received
)

func (d Direction) String() string {
	if d == Sent {
		return ">>"
	}
	return "<<"
}

// Entry is one journaled frame. Seq is assigned by the journal and grows by
// one per Record.
type Entry struct {
	Seq     uint64
	At      time.Time
	Dir     Direction
	Gen     uint64
	Opcode  protocol.Opcode
	Payload string
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s gen=%d %s %q",
		e.At.Format("15:04:05.000"), e.Dir, e.Gen, e.Opcode, e.Payload)
}

// Journal is a ring of recent frames bounded by total payload bytes and by
// slot count. When either bound is hit the oldest entries are evicted.
//
// Journal is safe for concurrent use.
type Journal struct {
	mu       sync.Mutex
	entries  []Entry
	seq      uint64
	size     int // current total payload bytes stored
	maxSize  int
	head     int // index of next write position
	count    int
	capacity int
	now      func() time.Time
}

// New creates a journal holding about maxBytes of payload.
func New(maxBytes int) *Journal {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	// KIVUPS payloads are short; assume ~32 bytes each, clamped to [64, 64K].
	slots := max(64, min(maxBytes/32, 1<<16))
	return &Journal{
		entries:  make([]Entry, slots),
		maxSize:  maxBytes,
		capacity: slots,
		now:      time.Now,
	}
}

// Record appends a frame and returns its sequence number.
func (j *Journal) Record(dir Direction, gen uint64, op protocol.Opcode, payload []byte) uint64 {
	p := string(payload)

	j.mu.Lock()
	defer j.mu.Unlock()

	for j.count > 0 && j.size+len(p) > j.maxSize {
		j.evictOldest()
	}
	if j.count >= j.capacity {
		j.evictOldest()
	}

	j.seq++
	j.entries[j.head] = Entry{Seq: j.seq, At: j.now(), Dir: dir, Gen: gen, Opcode: op, Payload: p}
	j.head = (j.head + 1) % j.capacity
	j.count++
	j.size += len(p)
	return j.seq
}

// tail returns the index of the oldest entry. Caller must hold j.mu and ensure j.count > 0.
func (j *Journal) tail() int {
	return (j.head - j.count + j.capacity) % j.capacity
}

func (j *Journal) evictOldest() {
	t := j.tail()
	j.size -= len(j.entries[t].Payload)
	j.entries[t] = Entry{}
	j.count--
}

// since returns the stored entries with Seq > after, oldest first, or nil.
func (j *Journal) since(after uint64) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Entry
	t := j.tail()
	for i := 0; i < j.count; i++ {
		e := j.entries[(t+i)%j.capacity]
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out
}

// Last returns up to n of the newest entries, oldest first.
func (j *Journal) Last(n int) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	n = min(n, j.count)
	if n <= 0 {
		return nil
	}
	out := make([]Entry, 0, n)
	start := (j.head - n + j.capacity) % j.capacity
	for i := 0; i < n; i++ {
		out = append(out, j.entries[(start+i)%j.capacity])
	}
	return out
}

// oldestSeq returns the oldest sequence number still stored, or 0 if empty.
func (j *Journal) oldestSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.count == 0 {
		return 0
	}
	return j.entries[j.tail()].Seq
}

// newestSeq returns the last assigned sequence number, or 0 before the
// first Record.
func (j *Journal) newestSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}
