// File: codel/codel.go
// Author: momentics <momentics@gmail.com>
//
// Fixed-capacity, timestamp-ordered write queue with CoDel drop decisions.
// Safe for concurrent Push and Drain across completion workers.

package codel

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// Defaults match the tunnel write path this queue was built for: a 5ms
// target sojourn, a 100ms measurement interval and room for 128 packets.
const (
	DefaultTarget       = 5 * time.Millisecond
	DefaultInterval     = 100 * time.Millisecond
	DefaultCapacity     = 128
	DefaultMaxEntrySize = 1500
)

// Options configure a Queue. Zero fields take the package defaults.
type Options struct {
	// Target is the acceptable sojourn time of an entry.
	Target time.Duration

	// Interval is the measurement window; sojourn must stay above Target
	// for one full Interval before dropping begins.
	Interval time.Duration

	// Capacity bounds the number of queued entries. Pushes beyond it are
	// dropped silently.
	Capacity int

	// MaxEntrySize bounds a single entry. Oversize pushes are rejected.
	MaxEntrySize int

	// Clock overrides the time source. Tests use a simulated clock.
	Clock func() time.Time
}

type entry struct {
	data     []byte
	enqueued time.Time
}

// Queue is a bounded FIFO with CoDel drop decisions applied at drain time.
// Timestamps are monotonic non-decreasing in enqueue order.
type Queue struct {
	name string

	mu   sync.Mutex
	fifo *queue.Queue

	target   time.Duration
	interval time.Duration
	capacity int
	maxEntry int
	now      func() time.Time

	// CoDel state, guarded by mu.
	firstAbove time.Time // zero while sojourn is under target
	dropNext   time.Time
	dropping   bool
	dropCount  int

	drops uint64 // atomic
}

// New creates a queue. The name appears in diagnostics only.
func New(name string, opts Options) *Queue {
	if opts.Target <= 0 {
		opts.Target = DefaultTarget
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MaxEntrySize <= 0 {
		opts.MaxEntrySize = DefaultMaxEntrySize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Queue{
		name:     name,
		fifo:     queue.New(),
		target:   opts.Target,
		interval: opts.Interval,
		capacity: opts.Capacity,
		maxEntry: opts.MaxEntrySize,
		now:      opts.Clock,
	}
}

// Push enqueues a copy of data stamped with the current time. It reports
// false when the entry was dropped: the queue is at capacity or data
// exceeds the maximum entry size. No error is surfaced for a drop.
func (q *Queue) Push(data []byte) bool {
	if len(data) == 0 || len(data) > q.maxEntry {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fifo.Length() >= q.capacity {
		atomic.AddUint64(&q.drops, 1)
		return false
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	q.fifo.Add(entry{data: buf, enqueued: q.now()})
	return true
}

// Drain walks queued entries oldest-first, applying the CoDel decision to
// each: entries under the target sojourn are emitted and reset the drop
// state; once sojourn has stayed above target for a full interval the head
// is dropped instead of emitted, and subsequent drops are paced at
// interval/sqrt(dropCount). The sink receives ownership of emitted buffers.
func (q *Queue) Drain(sink func(data []byte)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for q.fifo.Length() > 0 {
		e := q.fifo.Peek().(entry)
		sojourn := now.Sub(e.enqueued)

		if sojourn < q.target {
			// Delay recovered; leave the dropping state.
			q.firstAbove = time.Time{}
			q.dropping = false
			q.dropCount = 0
			q.fifo.Remove()
			sink(e.data)
			continue
		}

		if q.firstAbove.IsZero() {
			// First observation above target; arm the interval.
			q.firstAbove = now.Add(q.interval)
			q.fifo.Remove()
			sink(e.data)
			continue
		}

		if !q.dropping {
			if now.Before(q.firstAbove) {
				// Above target but not yet for a full interval.
				q.fifo.Remove()
				sink(e.data)
				continue
			}
			q.dropping = true
			q.dropCount = 1
			q.dropNext = now.Add(q.interval)
			q.dropEntry()
			continue
		}

		if !now.Before(q.dropNext) {
			q.dropCount++
			backoff := time.Duration(float64(q.interval) / math.Sqrt(float64(q.dropCount)))
			q.dropNext = now.Add(backoff)
			q.dropEntry()
			continue
		}

		q.fifo.Remove()
		sink(e.data)
	}
}

func (q *Queue) dropEntry() {
	q.fifo.Remove()
	atomic.AddUint64(&q.drops, 1)
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fifo.Length()
}

// Drops returns the total number of entries dropped so far, whether from
// capacity overflow or the CoDel discipline.
func (q *Queue) Drops() uint64 {
	return atomic.LoadUint64(&q.drops)
}

// Name returns the diagnostic name given at construction.
func (q *Queue) Name() string { return q.name }
