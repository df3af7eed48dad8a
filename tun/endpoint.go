// File: tun/endpoint.go
// Author: momentics <momentics@gmail.com>
//
// Virtual-interface endpoint: completion-backed packet I/O with a paced,
// loss-tolerant write queue. One standing read is kept outstanding at all
// times; every read completion re-issues it and a write completion re-issues
// it if none is pending.

package tun

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/codel"
	"github.com/momentics/netloop/completion"
	"github.com/momentics/netloop/control"
	"github.com/momentics/netloop/internal/logging"
)

const readBufSize = 4096

var (
	_ api.Endpoint       = (*Endpoint)(nil)
	_ api.PacketWriter   = (*Endpoint)(nil)
	_ completion.Handler = (*Endpoint)(nil)
)

// Endpoint is one virtual interface registered with the shared completion
// port. It implements api.Endpoint, api.PacketWriter and the port's Handler
// contract.
type Endpoint struct {
	dev   Device
	cfg   Config
	port  *completion.Port
	queue *codel.Queue

	readBuf [readBufSize]byte

	readPending int32 // one standing read at a time
	closed      int32
	shouldClose int32

	stats     *control.Stats
	lastDrops uint64
}

// New opens the device named in cfg and wraps it in an endpoint. The write
// pacing queue is created here; device configuration happens in Setup.
func New(cfg Config, port *completion.Port) (*Endpoint, error) {
	dev, err := OpenDevice(cfg.Name, cfg.MTU)
	if err != nil {
		return nil, err
	}
	return NewWithDevice(dev, cfg, port), nil
}

// NewWithDevice wraps an already opened device. Tests use it with a fake.
func NewWithDevice(dev Device, cfg Config, port *completion.Port) *Endpoint {
	return &Endpoint{
		dev:   dev,
		cfg:   cfg,
		port:  port,
		queue: codel.New(dev.Name()+"_write_queue", codel.Options{}),
	}
}

// SetStats attaches loop-wide counters. Optional; a nil receiver on the
// counter side makes instrumentation free to omit.
func (e *Endpoint) SetStats(s *control.Stats) { e.stats = s }

// Setup configures the device: assign address and netmask, then bring the
// interface up. Fail fast; on failure the caller destroys the endpoint, no
// partial rollback is attempted.
func (e *Endpoint) Setup() error {
	if err := e.dev.SetAddr(e.cfg.Addr); err != nil {
		return fmt.Errorf("assign address on %s: %w", e.dev.Name(), err)
	}
	if err := e.dev.Up(); err != nil {
		return fmt.Errorf("bring up %s: %w", e.dev.Name(), err)
	}
	return nil
}

// Register associates the endpoint with the completion port and issues the
// standing read.
func (e *Endpoint) Register() error {
	if err := e.port.Associate(e); err != nil {
		return err
	}
	e.submitRead()
	return nil
}

// QueueWrite pushes a copy of pkt into the pacing queue and immediately
// triggers a drain. Under backpressure the push is dropped silently.
func (e *Endpoint) QueueWrite(pkt []byte) bool {
	if atomic.LoadInt32(&e.closed) != 0 {
		return false
	}
	e.queue.Push(pkt)
	e.FlushWrite()
	return true
}

// FlushWrite fires the before-write hook, then drains the pacing queue into
// asynchronous device writes. Safe to call from any completion worker.
func (e *Endpoint) FlushWrite() {
	if e.cfg.Hooks.BeforeWrite != nil {
		e.cfg.Hooks.BeforeWrite(e)
	}
	e.queue.Drain(func(data []byte) {
		e.submitWrite(data)
	})
}

// submitRead issues the standing read unless one is already outstanding.
func (e *Endpoint) submitRead() {
	if atomic.LoadInt32(&e.closed) != 0 {
		return
	}
	if !atomic.CompareAndSwapInt32(&e.readPending, 0, 1) {
		return
	}
	req := e.port.NewRequest(completion.DirRead, e, e.readBuf[:])
	go func() {
		req.N, req.Err = e.dev.Read(req.Buf)
		// On a closed port the request is recycled inside Post.
		_ = e.port.Post(req)
	}()
}

// submitWrite hands one paced packet to the device asynchronously. The
// buffer is owned by the request until its completion is observed.
func (e *Endpoint) submitWrite(data []byte) {
	req := e.port.NewRequest(completion.DirWrite, e, data)
	go func() {
		req.N, req.Err = e.dev.Write(req.Buf)
		_ = e.port.Post(req)
	}()
}

// OnCompletion dispatches one completed request. Runs on a completion
// worker; read completions are strictly sequential because only one read is
// outstanding at a time.
func (e *Endpoint) OnCompletion(req *completion.Request) {
	if req.Dir == completion.DirRead {
		if atomic.LoadInt32(&e.closed) != 0 {
			atomic.StoreInt32(&e.readPending, 0)
			return
		}
		if req.Err != nil {
			logging.L().Warn().Err(req.Err).Str("dev", e.dev.Name()).Msg("tun read failed")
			atomic.StoreInt32(&e.shouldClose, 1)
			atomic.StoreInt32(&e.readPending, 0)
			return
		}
		e.stats.AddPacketsIn(1)
		e.stats.AddBytesIn(req.N)
		if e.cfg.Hooks.RecvPacket != nil {
			e.cfg.Hooks.RecvPacket(e, req.Buf[:req.N])
		}
		e.FlushWrite()
		// readPending stays set through the dispatch above: the shared
		// read buffer must not be reused while the payload is still in
		// the caller's hands.
		atomic.StoreInt32(&e.readPending, 0)
		e.submitRead()
		return
	}

	if req.Err != nil {
		logging.L().Warn().Err(req.Err).Str("dev", e.dev.Name()).Msg("tun write failed")
	} else {
		e.stats.AddPacketsOut(1)
		e.stats.AddBytesOut(req.N)
		logging.L().Debug().Int("bytes", req.N).Str("dev", e.dev.Name()).Msg("write to tunnel interface")
	}
	if atomic.LoadInt32(&e.closed) != 0 {
		return
	}
	e.submitRead()
}

// Name returns the device name.
func (e *Endpoint) Name() string { return e.dev.Name() }

// Queue exposes the pacing queue for inspection.
func (e *Endpoint) Queue() *codel.Queue { return e.queue }

// FD implements api.Endpoint.
func (e *Endpoint) FD() int { return e.dev.FD() }

// Read implements api.Endpoint. Virtual interfaces are completion-backed;
// packets arrive through OnCompletion, so a readiness read is a no-op.
func (e *Endpoint) Read(buf []byte) error { return nil }

// Fail implements api.Endpoint.
func (e *Endpoint) Fail() {
	atomic.StoreInt32(&e.shouldClose, 1)
}

// Tick implements api.Endpoint. Besides the caller's hook it folds the
// pacing queue's drop count into the loop counters.
func (e *Endpoint) Tick() {
	if d := e.queue.Drops(); d > e.lastDrops {
		e.stats.AddQueueDrops(d - e.lastDrops)
		e.lastDrops = d
	}
	if e.cfg.Hooks.Tick != nil {
		e.cfg.Hooks.Tick(e)
	}
}

// ShouldClose implements api.Endpoint.
func (e *Endpoint) ShouldClose() bool {
	return atomic.LoadInt32(&e.shouldClose) != 0
}

// Close cancels outstanding I/O by closing the device (which unblocks the
// standing read) and removes the endpoint from the port. Completions that
// were already in flight find the endpoint closed and are released without
// dispatch to the caller.
func (e *Endpoint) Close() error {
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil
	}
	err := e.dev.Close()
	e.port.Deassociate(e)
	return err
}

// Release implements the port's teardown contract. It runs strictly after
// all completion workers have exited.
func (e *Endpoint) Release() {
	atomic.StoreInt32(&e.closed, 1)
	if err := e.dev.Close(); err != nil {
		logging.L().Warn().Err(err).Str("dev", e.dev.Name()).Msg("device close failed during teardown")
	}
}
