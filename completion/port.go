// File: completion/port.go
// Author: momentics <momentics@gmail.com>
//
// Shared completion channel and worker pool. Ownership of completed I/O
// crosses goroutines through an explicit channel transfer, never through
// shared heap pointers.

package completion

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/internal/logging"
)

// pollInterval bounds the worker wait purely so shutdown is observed
// promptly; it is not an application-level timeout.
const pollInterval = 100 * time.Millisecond

// sentinel is the out-of-band shutdown marker. One is posted per worker.
var sentinel = &Request{}

// Handler is the endpoint side of the completion contract.
type Handler interface {
	// OnCompletion dispatches one completed request. It runs on a worker
	// goroutine; two completions for the same endpoint may be dispatched
	// concurrently.
	OnCompletion(req *Request)

	// Release frees the endpoint's resources. Called during port teardown,
	// strictly after every worker has exited.
	Release()
}

// Port is the loop-wide completion channel. Worker count is fixed at
// creation and not resized at runtime.
type Port struct {
	completions chan *Request
	done        chan struct{}
	workers     int
	wg          sync.WaitGroup
	pool        sync.Pool

	mu       sync.Mutex
	handlers []Handler // association order, consulted at teardown

	closed   int32
	inflight int32 // posts between entry check and channel hand-off

	completed uint64 // atomic, dispatched completions
}

// NewPort creates the completion channel and starts its workers. A worker
// count <= 0 defaults to twice the logical CPU count.
func NewPort(workers int) *Port {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	depth := 1024
	if workers*4 > depth {
		depth = workers * 4
	}
	p := &Port{
		completions: make(chan *Request, depth),
		done:        make(chan struct{}),
		workers:     workers,
	}
	p.pool.New = func() any { return new(Request) }
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	logging.L().Info().Int("workers", workers).Msg("created workers for completion queue")
	return p
}

// Workers returns the fixed worker count.
func (p *Port) Workers() int { return p.workers }

// Associate registers an endpoint with the port.
func (p *Port) Associate(h Handler) error {
	if atomic.LoadInt32(&p.closed) != 0 {
		return api.ErrClosed
	}
	p.mu.Lock()
	p.handlers = append(p.handlers, h)
	p.mu.Unlock()
	return nil
}

// Deassociate removes an endpoint registered with the port. Endpoints
// closed individually before global teardown must deassociate so they are
// not released twice.
func (p *Port) Deassociate(h Handler) {
	p.mu.Lock()
	for i, hh := range p.handlers {
		if hh == h {
			p.handlers = append(p.handlers[:i], p.handlers[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

// NewRequest obtains a request record owned by h. The buffer must remain
// valid and unmodified until the request completes.
func (p *Port) NewRequest(dir Direction, h Handler, buf []byte) *Request {
	req := p.pool.Get().(*Request)
	req.Dir = dir
	req.Buf = buf
	req.N = 0
	req.Err = nil
	req.owner = h
	atomic.StoreInt32(&req.released, 0)
	return req
}

// Post transfers a completed request to the channel. If the port has shut
// down the request is released here and ErrClosed returned; it will not be
// dispatched. The closed flag is checked before the select: once Close has
// begun, a select against a dead but non-full channel would otherwise
// succeed at random.
func (p *Port) Post(req *Request) error {
	atomic.AddInt32(&p.inflight, 1)
	defer atomic.AddInt32(&p.inflight, -1)
	if atomic.LoadInt32(&p.closed) != 0 {
		p.recycle(req)
		return api.ErrClosed
	}
	select {
	case p.completions <- req:
		return nil
	case <-p.done:
		p.recycle(req)
		return api.ErrClosed
	}
}

// Completed returns the number of dispatched completions.
func (p *Port) Completed() uint64 {
	return atomic.LoadUint64(&p.completed)
}

// worker drains the shared channel until it observes the shutdown sentinel.
// The bounded wait is a liveness check only; on timeout the worker simply
// loops again.
func (p *Port) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case req := <-p.completions:
			if req == sentinel {
				logging.L().Debug().Int("worker", id).Msg("exit completion worker")
				return
			}
			req.Owner().OnCompletion(req)
			atomic.AddUint64(&p.completed, 1)
			p.recycle(req)
		case <-time.After(pollInterval):
		}
	}
}

// recycle releases a request exactly once and returns it to the pool.
func (p *Port) recycle(req *Request) {
	req.release()
	req.Buf = nil
	req.Err = nil
	req.owner = nil
	p.pool.Put(req)
}

// Close shuts the port down: one sentinel per worker, join all workers,
// release every registered endpoint, then the channel is dead. Idempotent.
// Endpoints are released only after all workers have exited; a residual
// completion must never dereference a released endpoint.
func (p *Port) Close() {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return
	}
	close(p.done)
	for i := 0; i < p.workers; i++ {
		p.completions <- sentinel
	}
	p.wg.Wait()

	// A post that passed the closed check before the flag flipped may
	// still be enqueueing; wait it out so the drain below sees every
	// stranded request.
	for atomic.LoadInt32(&p.inflight) != 0 {
		time.Sleep(time.Millisecond)
	}

	// Residual completions posted before shutdown are released without
	// dispatch.
	for {
		select {
		case req := <-p.completions:
			if req != sentinel {
				p.recycle(req)
			}
		default:
			p.mu.Lock()
			hs := p.handlers
			p.handlers = nil
			p.mu.Unlock()
			for _, h := range hs {
				h.Release()
			}
			return
		}
	}
}
