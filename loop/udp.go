// File: loop/udp.go
// Author: momentics <momentics@gmail.com>
//
// UDP socket endpoint for the readiness backend.

package loop

import (
	"fmt"
	"net/netip"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/internal/logging"
)

// udpSocket is one bound UDP socket. Datagram sends are immediate; there is
// no outbound queue to flush.
type udpSocket struct {
	loop        *Loop
	fd          int
	hooks       api.UDPHooks
	shouldClose int32
}

func (u *udpSocket) FD() int { return u.fd }

// Read decodes one datagram with its source address and forwards both to
// the receive handler.
func (u *udpSocket) Read(buf []byte) error {
	n, sa, err := unix.Recvfrom(u.fd, buf, 0)
	if err == unix.EAGAIN {
		return nil
	}
	if err != nil {
		atomic.StoreInt32(&u.shouldClose, 1)
		return fmt.Errorf("recvfrom: %w", err)
	}
	from, ok := addrPortFromSockaddr(sa)
	if !ok {
		return api.ErrBadAddressFamily
	}
	u.loop.stats.AddPacketsIn(1)
	u.loop.stats.AddBytesIn(n)
	if u.hooks.RecvFrom != nil {
		u.hooks.RecvFrom(u, from, buf[:n])
	}
	return nil
}

// SendTo validates the destination family before issuing the OS send; only
// IPv4 and IPv6 destinations are accepted.
func (u *udpSocket) SendTo(to netip.AddrPort, payload []byte) error {
	sa, err := sockaddrFromAddrPort(to)
	if err != nil {
		return err
	}
	if err := unix.Sendto(u.fd, payload, 0, sa); err != nil {
		logging.L().Warn().Err(err).Int("fd", u.fd).Msg("sendto failed")
		return fmt.Errorf("sendto: %w", err)
	}
	u.loop.stats.AddPacketsOut(1)
	u.loop.stats.AddBytesOut(len(payload))
	return nil
}

func (u *udpSocket) FlushWrite() {}

func (u *udpSocket) Fail() {
	atomic.StoreInt32(&u.shouldClose, 1)
}

// Tick runs the caller's periodic housekeeping hook.
func (u *udpSocket) Tick() {
	if u.hooks.Tick != nil {
		u.hooks.Tick(u)
	}
}

func (u *udpSocket) ShouldClose() bool {
	return atomic.LoadInt32(&u.shouldClose) != 0
}

func (u *udpSocket) Close() error {
	return unix.Close(u.fd)
}
