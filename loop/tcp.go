// File: loop/tcp.go
// Author: momentics <momentics@gmail.com>
//
// TCP connection and acceptor endpoints for the readiness backend.

package loop

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/internal/logging"
)

// tcpConn is one established or connecting TCP connection. Outbound data is
// queued losslessly and flushed on write readiness; a pending non-blocking
// connect delivers its outcome exactly once, on the first flush or on an
// error report.
type tcpConn struct {
	loop  *Loop
	fd    int
	hooks api.ConnHooks

	// 1 while the connect outcome has not been delivered. Consumed by
	// whichever of finishConnect/Fail observes it first.
	pendingConnect int32

	shouldClose int32

	mu        sync.Mutex
	pending   [][]byte
	wantWrite bool // write readiness currently registered
}

func newTCPConn(l *Loop, fd int, hooks api.ConnHooks) *tcpConn {
	return &tcpConn{loop: l, fd: fd, hooks: hooks}
}

func (c *tcpConn) FD() int { return c.fd }

// Read performs one receive and hands the bytes to the caller. A failed or
// zero-length read marks the connection for closure.
func (c *tcpConn) Read(buf []byte) error {
	if c.ShouldClose() {
		return api.ErrShouldClose
	}
	n, err := unix.Read(c.fd, buf)
	if err == unix.EAGAIN {
		return nil
	}
	if err != nil || n <= 0 {
		atomic.StoreInt32(&c.shouldClose, 1)
		if err == nil {
			err = fmt.Errorf("connection closed by peer")
		}
		return err
	}
	c.loop.stats.AddBytesIn(n)
	if c.hooks.Read != nil {
		c.hooks.Read(c, buf[:n])
	}
	return nil
}

// QueueWrite appends a copy of data to the outbound queue and makes sure
// write readiness is watched so the next cycle flushes it.
func (c *tcpConn) QueueWrite(data []byte) bool {
	if c.ShouldClose() || len(data) == 0 {
		return false
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.mu.Lock()
	c.pending = append(c.pending, cp)
	c.raiseWriteInterest()
	c.mu.Unlock()
	return true
}

// raiseWriteInterest re-adds EPOLLOUT. Caller holds mu.
func (c *tcpConn) raiseWriteInterest() {
	if c.wantWrite {
		return
	}
	c.wantWrite = true
	if err := c.loop.r.Modify(c.fd, true); err != nil {
		logging.L().Debug().Err(err).Int("fd", c.fd).Msg("raise write interest failed")
	}
}

// dropWriteInterest removes EPOLLOUT once there is nothing left to flush;
// a connected idle socket is permanently writable and would otherwise wake
// every wait. Caller holds mu.
func (c *tcpConn) dropWriteInterest() {
	if !c.wantWrite {
		return
	}
	c.wantWrite = false
	if err := c.loop.r.Modify(c.fd, false); err != nil {
		logging.L().Debug().Err(err).Int("fd", c.fd).Msg("drop write interest failed")
	}
}

// FlushWrite first settles a pending connect, then writes queued data until
// the OS pushes back. Write interest is dropped once the queue is empty and
// no connect is pending.
func (c *tcpConn) FlushWrite() {
	c.finishConnect()
	if c.ShouldClose() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) > 0 {
		buf := c.pending[0]
		n, err := unix.Write(c.fd, buf)
		if err == unix.EAGAIN {
			return
		}
		if err != nil {
			atomic.StoreInt32(&c.shouldClose, 1)
			if c.hooks.Error != nil {
				c.hooks.Error(fmt.Errorf("write: %w", err))
			}
			return
		}
		c.loop.stats.AddBytesOut(n)
		if n < len(buf) {
			c.pending[0] = buf[n:]
			return
		}
		c.pending = c.pending[1:]
	}
	if atomic.LoadInt32(&c.pendingConnect) == 0 {
		c.dropWriteInterest()
	}
}

// finishConnect delivers the connected notification exactly once, on the
// first write readiness after a pending connect. The socket error slot
// decides between the connected and error callbacks.
func (c *tcpConn) finishConnect() {
	if !atomic.CompareAndSwapInt32(&c.pendingConnect, 1, 0) {
		return
	}
	soerr, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && soerr == 0 {
		logging.L().Debug().Int("fd", c.fd).Msg("connected")
		if c.hooks.Connected != nil {
			c.hooks.Connected(c)
		}
		return
	}
	atomic.StoreInt32(&c.shouldClose, 1)
	if c.hooks.Error != nil {
		c.hooks.Error(fmt.Errorf("connect: %w", unix.Errno(soerr)))
	}
}

// connectedNow records an immediately successful connect.
func (c *tcpConn) connectedNow() {
	if !atomic.CompareAndSwapInt32(&c.pendingConnect, 1, 0) {
		return
	}
	logging.L().Debug().Int("fd", c.fd).Msg("connected immediately")
	if c.hooks.Connected != nil {
		c.hooks.Connected(c)
	}
}

// Fail handles a backend-reported error condition. A pending connect turns
// it into the caller's error callback; either way the connection closes.
func (c *tcpConn) Fail() {
	if atomic.CompareAndSwapInt32(&c.pendingConnect, 1, 0) {
		soerr, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil || soerr == 0 {
			soerr = int(unix.ECONNREFUSED)
		}
		if c.hooks.Error != nil {
			c.hooks.Error(fmt.Errorf("connect: %w", unix.Errno(soerr)))
		}
	}
	atomic.StoreInt32(&c.shouldClose, 1)
}

func (c *tcpConn) Tick() {}

func (c *tcpConn) ShouldClose() bool {
	return atomic.LoadInt32(&c.shouldClose) != 0
}

func (c *tcpConn) Close() error {
	err := unix.Close(c.fd)
	if c.hooks.Closed != nil {
		c.hooks.Closed(c)
	}
	return err
}

// tcpAcceptor is a listening TCP endpoint. Read readiness means a pending
// connection: accept it, register the new connection with the loop, then
// fire the accepted callback.
type tcpAcceptor struct {
	loop        *Loop
	fd          int
	hooks       api.AcceptHooks
	shouldClose int32
}

func (a *tcpAcceptor) FD() int { return a.fd }

func (a *tcpAcceptor) Read(_ []byte) error {
	nfd, _, err := unix.Accept4(a.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN {
			return nil
		}
		logging.L().Error().Err(err).Int("fd", a.fd).Msg("accept failed")
		return fmt.Errorf("accept: %w", err)
	}
	conn := newTCPConn(a.loop, nfd, a.hooks.Conn)
	// Established sockets are watched for reads only; write interest is
	// raised on demand when data is queued.
	if err := a.loop.addEndpoint(conn, false); err != nil {
		return err
	}
	if a.hooks.Accepted != nil {
		a.hooks.Accepted(a, conn)
	}
	return nil
}

func (a *tcpAcceptor) FlushWrite() {}

func (a *tcpAcceptor) Fail() {
	atomic.StoreInt32(&a.shouldClose, 1)
}

func (a *tcpAcceptor) Tick() {}

func (a *tcpAcceptor) ShouldClose() bool {
	return atomic.LoadInt32(&a.shouldClose) != 0
}

func (a *tcpAcceptor) Close() error {
	err := unix.Close(a.fd)
	if a.hooks.Closed != nil {
		a.hooks.Closed()
	}
	return err
}
