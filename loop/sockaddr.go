// File: loop/sockaddr.go
// Author: momentics <momentics@gmail.com>
//
// Conversions between netip addresses and raw socket addresses.

package loop

import (
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/momentics/netloop/api"
)

// sockaddrFromAddrPort builds the raw sockaddr for an IPv4 or IPv6
// address:port. Any other family is rejected before an OS call is made.
func sockaddrFromAddrPort(ap netip.AddrPort) (unix.Sockaddr, error) {
	addr := ap.Addr()
	switch {
	case addr.Is4() || addr.Is4In6():
		sa := &unix.SockaddrInet4{Port: int(ap.Port())}
		sa.Addr = addr.Unmap().As4()
		return sa, nil
	case addr.Is6():
		sa := &unix.SockaddrInet6{Port: int(ap.Port())}
		sa.Addr = addr.As16()
		return sa, nil
	default:
		return nil, api.ErrBadAddressFamily
	}
}

// familyOf reports the socket family for an address.
func familyOf(ap netip.AddrPort) (int, error) {
	addr := ap.Addr()
	switch {
	case addr.Is4() || addr.Is4In6():
		return unix.AF_INET, nil
	case addr.Is6():
		return unix.AF_INET6, nil
	default:
		return 0, api.ErrBadAddressFamily
	}
}

// addrPortFromSockaddr recovers the peer address from a raw sockaddr.
func addrPortFromSockaddr(sa unix.Sockaddr) (netip.AddrPort, bool) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port)), true
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr).Unmap(), uint16(v.Port)), true
	default:
		return netip.AddrPort{}, false
	}
}
