// File: control/stats.go
// Author: momentics <momentics@gmail.com>
//
// Runtime counters for the loop and its endpoints. All methods tolerate a
// nil receiver so instrumentation can be disabled by omission.

package control

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Stats aggregates loop-wide counters. Safe for concurrent use.
type Stats struct {
	packetsIn  uint64
	packetsOut uint64
	bytesIn    uint64
	bytesOut   uint64
	queueDrops uint64
	events     uint64
}

// NewStats creates an empty counter set.
func NewStats() *Stats { return &Stats{} }

func (s *Stats) AddPacketsIn(n int) {
	if s != nil {
		atomic.AddUint64(&s.packetsIn, uint64(n))
	}
}

func (s *Stats) AddPacketsOut(n int) {
	if s != nil {
		atomic.AddUint64(&s.packetsOut, uint64(n))
	}
}

func (s *Stats) AddBytesIn(n int) {
	if s != nil {
		atomic.AddUint64(&s.bytesIn, uint64(n))
	}
}

func (s *Stats) AddBytesOut(n int) {
	if s != nil {
		atomic.AddUint64(&s.bytesOut, uint64(n))
	}
}

func (s *Stats) AddQueueDrops(n uint64) {
	if s != nil {
		atomic.AddUint64(&s.queueDrops, n)
	}
}

func (s *Stats) AddEvents(n int) {
	if s != nil {
		atomic.AddUint64(&s.events, uint64(n))
	}
}

// Snapshot returns the counters formatted for operators.
func (s *Stats) Snapshot() map[string]string {
	if s == nil {
		return nil
	}
	return map[string]string{
		"packets_in":  humanize.Comma(int64(atomic.LoadUint64(&s.packetsIn))),
		"packets_out": humanize.Comma(int64(atomic.LoadUint64(&s.packetsOut))),
		"bytes_in":    humanize.Bytes(atomic.LoadUint64(&s.bytesIn)),
		"bytes_out":   humanize.Bytes(atomic.LoadUint64(&s.bytesOut)),
		"queue_drops": humanize.Comma(int64(atomic.LoadUint64(&s.queueDrops))),
		"events":      humanize.Comma(int64(atomic.LoadUint64(&s.events))),
	}
}

// String renders a one-line summary.
func (s *Stats) String() string {
	if s == nil {
		return ""
	}
	snap := s.Snapshot()
	return fmt.Sprintf("in=%s/%s out=%s/%s drops=%s events=%s",
		snap["packets_in"], snap["bytes_in"],
		snap["packets_out"], snap["bytes_out"],
		snap["queue_drops"], snap["events"])
}
