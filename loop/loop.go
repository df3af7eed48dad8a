// File: loop/loop.go
// Author: momentics <momentics@gmail.com>
//
// Event loop: endpoint registry, tick/run cycle and endpoint factories.

package loop

import (
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/completion"
	"github.com/momentics/netloop/control"
	"github.com/momentics/netloop/internal/logging"
	"github.com/momentics/netloop/reactor"
	"github.com/momentics/netloop/tun"
)

const (
	// tickInterval paces Run between bounded waits.
	tickInterval = 10 * time.Millisecond

	// maxEvents bounds one tick's readiness batch.
	maxEvents = 1024

	// readBufSize is the per-tick scratch read buffer.
	readBufSize = 4096
)

// Loop state machine: uninitialized → running → stopped.
const (
	stateUninitialized int32 = iota
	stateRunning
	stateStopped
)

// Loop owns the registry of live endpoints and drives one multiplexing
// cycle per Tick. It is created once per logical network stack and
// destroyed only after all endpoints are closed; destruction is idempotent.
type Loop struct {
	r     reactor.EventReactor
	stats *control.Stats

	mu    sync.Mutex
	order []api.Endpoint       // insertion order, for ticks and teardown
	byFD  map[int]api.Endpoint // readiness dispatch

	// Completion side: created lazily by the first virtual interface,
	// shared by all of them. tuns is consulted only at teardown and for
	// periodic ticks.
	tunPort *completion.Port
	tuns    []*tun.Endpoint
	workers int

	readBuf []byte
	events  []reactor.Event
	tick    time.Duration

	state     int32
	closeOnce sync.Once
}

// New creates an uninitialized loop. workers configures the completion
// worker pool created on first virtual-interface registration; <= 0 means
// twice the logical CPU count.
func New(workers int) *Loop {
	return &Loop{
		stats:   control.NewStats(),
		byFD:    make(map[int]api.Endpoint),
		workers: workers,
		readBuf: make([]byte, readBufSize),
		events:  make([]reactor.Event, maxEvents),
		tick:    tickInterval,
	}
}

// NewFromConfig creates a loop from a loaded configuration.
func NewFromConfig(cfg *control.Config) *Loop {
	l := New(cfg.Workers)
	if cfg.ReadBufferSize > 0 {
		l.readBuf = make([]byte, cfg.ReadBufferSize)
	}
	if cfg.TickIntervalMs > 0 {
		l.tick = time.Duration(cfg.TickIntervalMs) * time.Millisecond
	}
	return l
}

// Stats exposes the loop's runtime counters.
func (l *Loop) Stats() *control.Stats { return l.stats }

// Init allocates the readiness backend. Idempotent.
func (l *Loop) Init() error {
	if atomic.LoadInt32(&l.state) == stateRunning {
		return nil
	}
	if atomic.LoadInt32(&l.state) == stateStopped {
		return api.ErrClosed
	}
	r, err := reactor.NewReactor()
	if err != nil {
		return err
	}
	l.r = r
	atomic.StoreInt32(&l.state, stateRunning)
	return nil
}

// Tick performs one bounded wait for readiness events, dispatches each to
// the owning endpoint per the reported bits, sweeps endpoints marked for
// closure, then runs the periodic housekeeping hooks. Returns the number of
// events handled.
func (l *Loop) Tick(timeoutMs int) (int, error) {
	if atomic.LoadInt32(&l.state) != stateRunning {
		return 0, api.ErrNotRunning
	}
	n, err := l.r.Wait(l.events, timeoutMs)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		ev := l.events[i]
		l.mu.Lock()
		e := l.byFD[ev.Fd]
		l.mu.Unlock()
		if e == nil {
			continue
		}
		if ev.Events&reactor.EventError != 0 {
			e.Fail()
			continue
		}
		if ev.Events&reactor.EventRead != 0 {
			if rerr := e.Read(l.readBuf); rerr != nil {
				logging.L().Debug().Err(rerr).Int("fd", e.FD()).Msg("read failed")
			}
		}
		if ev.Events&reactor.EventWrite != 0 {
			e.FlushWrite()
		}
	}
	l.stats.AddEvents(n)
	l.sweepClosed()
	l.tickEndpoints()
	return n, nil
}

// Run repeats Tick at a fixed interval until the loop is stopped.
func (l *Loop) Run() error {
	for atomic.LoadInt32(&l.state) == stateRunning {
		if _, err := l.Tick(int(l.tick / time.Millisecond)); err != nil {
			if err == api.ErrNotRunning {
				return nil
			}
			return err
		}
	}
	return nil
}

// Stop makes Run return after the current tick.
func (l *Loop) Stop() {
	atomic.CompareAndSwapInt32(&l.state, stateRunning, stateStopped)
}

// sweepClosed removes and closes endpoints that marked themselves,
// readiness-backed and completion-backed alike.
func (l *Loop) sweepClosed() {
	l.mu.Lock()
	var doomed []api.Endpoint
	for _, e := range l.order {
		if e.ShouldClose() {
			doomed = append(doomed, e)
		}
	}
	var doomedTuns []*tun.Endpoint
	for _, te := range l.tuns {
		if te.ShouldClose() {
			doomedTuns = append(doomedTuns, te)
		}
	}
	l.mu.Unlock()
	for _, e := range doomed {
		l.CloseEndpoint(e)
	}
	for _, te := range doomedTuns {
		l.closeTun(te)
	}
}

// tickEndpoints runs the periodic hook on every registered endpoint,
// including the completion-backed virtual interfaces.
func (l *Loop) tickEndpoints() {
	l.mu.Lock()
	eps := make([]api.Endpoint, len(l.order))
	copy(eps, l.order)
	tuns := make([]*tun.Endpoint, len(l.tuns))
	copy(tuns, l.tuns)
	l.mu.Unlock()
	for _, e := range eps {
		e.Tick()
	}
	for _, e := range tuns {
		e.Tick()
	}
}

// addEndpoint registers an endpoint with the readiness backend and appends
// it to the registry. On registration failure the endpoint is closed and
// the failure reported to the caller.
func (l *Loop) addEndpoint(e api.Endpoint, wantWrite bool) error {
	if err := l.r.Register(e.FD(), wantWrite); err != nil {
		e.Close()
		return fmt.Errorf("register fd %d: %w", e.FD(), err)
	}
	l.mu.Lock()
	l.order = append(l.order, e)
	l.byFD[e.FD()] = e
	l.mu.Unlock()
	return nil
}

// CloseEndpoint deregisters an endpoint from its backend, removes it from
// the registry and closes it. Reports whether the endpoint was known.
func (l *Loop) CloseEndpoint(e api.Endpoint) bool {
	if te, ok := e.(*tun.Endpoint); ok {
		return l.closeTun(te)
	}
	l.mu.Lock()
	_, known := l.byFD[e.FD()]
	if known {
		delete(l.byFD, e.FD())
		for i, x := range l.order {
			if x == e {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
	}
	l.mu.Unlock()
	if !known {
		return false
	}
	if err := l.r.Unregister(e.FD()); err != nil {
		// Teardown bookkeeping failures are logged, never fatal.
		logging.L().Warn().Err(err).Int("fd", e.FD()).Msg("deregister failed")
	}
	e.Close()
	return true
}

func (l *Loop) closeTun(te *tun.Endpoint) bool {
	l.mu.Lock()
	known := false
	for i, x := range l.tuns {
		if x == te {
			l.tuns = append(l.tuns[:i], l.tuns[i+1:]...)
			known = true
			break
		}
	}
	l.mu.Unlock()
	if !known {
		return false
	}
	te.Close()
	return true
}

// BindTCP creates a listening TCP endpoint on an IPv4 or IPv6 address.
func (l *Loop) BindTCP(local netip.AddrPort, hooks api.AcceptHooks) (api.Endpoint, error) {
	family, err := familyOf(local)
	if err != nil {
		return nil, err
	}
	sa, err := sockaddrFromAddrPort(local)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %v: %w", local, err)
	}
	if err := unix.Listen(fd, 5); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %v: %w", local, err)
	}
	a := &tcpAcceptor{loop: l, fd: fd, hooks: hooks}
	if err := l.addEndpoint(a, false); err != nil {
		return nil, err
	}
	logging.L().Info().Stringer("addr", local).Msg("tcp listener bound")
	return a, nil
}

// BindTCPUnix creates a listening TCP endpoint on a unix-domain path.
func (l *Loop) BindTCPUnix(path string, hooks api.AcceptHooks) (api.Endpoint, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, 5); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	a := &tcpAcceptor{loop: l, fd: fd, hooks: hooks}
	if err := l.addEndpoint(a, false); err != nil {
		return nil, err
	}
	return a, nil
}

// ConnectTCP starts a non-blocking connect. An immediately completed
// connect fires the connected callback now; an in-progress one defers it to
// the first write readiness; a synchronous failure reports false with the
// endpoint destroyed. No automatic retry is performed.
func (l *Loop) ConnectTCP(remote netip.AddrPort, hooks api.ConnHooks) bool {
	family, err := familyOf(remote)
	if err != nil {
		return false
	}
	sa, err := sockaddrFromAddrPort(remote)
	if err != nil {
		return false
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return false
	}
	c := newTCPConn(l, fd, hooks)
	c.pendingConnect = 1
	c.wantWrite = true // connect outcome arrives as write readiness
	if err := l.addEndpoint(c, true); err != nil {
		return false
	}
	switch err := unix.Connect(fd, sa); err {
	case nil:
		c.connectedNow()
	case unix.EINPROGRESS:
		logging.L().Debug().Stringer("addr", remote).Msg("connect in progress")
	default:
		logging.L().Error().Err(err).Stringer("addr", remote).Msg("connect failed")
		if hooks.Error != nil {
			hooks.Error(fmt.Errorf("connect %v: %w", remote, err))
		}
		atomic.StoreInt32(&c.pendingConnect, 0)
		l.CloseEndpoint(c)
		return false
	}
	return true
}

// ListenUDP creates a bound UDP endpoint. Only IPv4 and IPv6 are accepted.
// IPv6 sockets are opened dual-stack.
func (l *Loop) ListenUDP(local netip.AddrPort, hooks api.UDPHooks) (api.Endpoint, error) {
	family, err := familyOf(local)
	if err != nil {
		return nil, err
	}
	sa, err := sockaddrFromAddrPort(local)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if family == unix.AF_INET6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("dual-stack: %w", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %v: %w", local, err)
	}
	u := &udpSocket{loop: l, fd: fd, hooks: hooks}
	if err := l.addEndpoint(u, false); err != nil {
		return nil, err
	}
	logging.L().Debug().Stringer("addr", local).Msg("udp socket bound")
	return u, nil
}

// OpenTun opens a virtual interface, configures it and registers it with
// the shared completion port. The first interface creates the port and
// starts its workers; later ones only associate. Setup or registration
// failure destroys the partially constructed endpoint.
func (l *Loop) OpenTun(cfg tun.Config) (*tun.Endpoint, error) {
	l.mu.Lock()
	if l.tunPort == nil {
		l.tunPort = completion.NewPort(l.workers)
	}
	port := l.tunPort
	l.mu.Unlock()

	ep, err := tun.New(cfg, port)
	if err != nil {
		return nil, err
	}
	if err := ep.Setup(); err != nil {
		ep.Close()
		return nil, err
	}
	ep.SetStats(l.stats)
	if err := ep.Register(); err != nil {
		ep.Close()
		return nil, err
	}
	l.mu.Lock()
	l.tuns = append(l.tuns, ep)
	l.mu.Unlock()
	logging.L().Info().Str("dev", ep.Name()).Stringer("addr", cfg.Addr).Msg("virtual interface up")
	return ep, nil
}

// Close tears the loop down: stop the cycle, close every registered
// endpoint, shut the completion port (which releases all virtual
// interfaces after its workers exit), then release the reactor. Idempotent
// and never fatal; bookkeeping failures are logged and teardown continues.
func (l *Loop) Close() error {
	l.closeOnce.Do(func() {
		l.Stop()
		atomic.StoreInt32(&l.state, stateStopped)

		l.mu.Lock()
		eps := make([]api.Endpoint, len(l.order))
		copy(eps, l.order)
		l.order = nil
		l.byFD = make(map[int]api.Endpoint)
		port := l.tunPort
		l.tuns = nil
		l.mu.Unlock()

		for _, e := range eps {
			if l.r != nil {
				if err := l.r.Unregister(e.FD()); err != nil {
					logging.L().Warn().Err(err).Int("fd", e.FD()).Msg("deregister failed during teardown")
				}
			}
			e.Close()
		}
		if port != nil {
			port.Close()
		}
		if l.r != nil {
			if err := l.r.Close(); err != nil {
				logging.L().Warn().Err(err).Msg("reactor close failed")
			}
		}
	})
	return nil
}
