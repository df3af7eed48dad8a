//go:build linux

// File: tun/device_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux TUN device via /dev/net/tun. Address, netmask, MTU and link state
// are configured over a throwaway AF_INET control socket.

package tun

import (
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

type linuxDevice struct {
	fd     int
	name   string
	mtu    int
	closed int32
}

// OpenDevice opens a TUN device. An empty name lets the kernel assign one.
func OpenDevice(name string, mtu int) (Device, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/net/tun: %w", err)
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("interface name %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF: %w", err)
	}
	return &linuxDevice{fd: fd, name: ifr.Name(), mtu: mtu}, nil
}

func (d *linuxDevice) Name() string { return d.name }

func (d *linuxDevice) FD() int { return d.fd }

// withCtrlSocket runs fn with a throwaway datagram socket used only for
// interface ioctls.
func withCtrlSocket(fn func(s int) error) error {
	s, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	defer unix.Close(s)
	return fn(s)
}

func (d *linuxDevice) SetAddr(addr netip.Prefix) error {
	if !addr.Addr().Is4() {
		return fmt.Errorf("interface address %v: only IPv4 is supported", addr)
	}
	return withCtrlSocket(func(s int) error {
		ifr, err := unix.NewIfreq(d.name)
		if err != nil {
			return err
		}
		ip := addr.Addr().As4()
		if err := ifr.SetInet4Addr(ip[:]); err != nil {
			return err
		}
		if err := unix.IoctlIfreq(s, unix.SIOCSIFADDR, ifr); err != nil {
			return fmt.Errorf("SIOCSIFADDR: %w", err)
		}
		mask := net.CIDRMask(addr.Bits(), 32)
		if err := ifr.SetInet4Addr(mask); err != nil {
			return err
		}
		if err := unix.IoctlIfreq(s, unix.SIOCSIFNETMASK, ifr); err != nil {
			return fmt.Errorf("SIOCSIFNETMASK: %w", err)
		}
		if d.mtu > 0 {
			ifr.SetUint32(uint32(d.mtu))
			if err := unix.IoctlIfreq(s, unix.SIOCSIFMTU, ifr); err != nil {
				return fmt.Errorf("SIOCSIFMTU: %w", err)
			}
		}
		return nil
	})
}

func (d *linuxDevice) Up() error {
	return withCtrlSocket(func(s int) error {
		ifr, err := unix.NewIfreq(d.name)
		if err != nil {
			return err
		}
		if err := unix.IoctlIfreq(s, unix.SIOCGIFFLAGS, ifr); err != nil {
			return fmt.Errorf("SIOCGIFFLAGS: %w", err)
		}
		ifr.SetUint16(ifr.Uint16() | unix.IFF_UP | unix.IFF_RUNNING)
		if err := unix.IoctlIfreq(s, unix.SIOCSIFFLAGS, ifr); err != nil {
			return fmt.Errorf("SIOCSIFFLAGS: %w", err)
		}
		return nil
	})
}

func (d *linuxDevice) Read(buf []byte) (int, error) {
	n, err := unix.Read(d.fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (d *linuxDevice) Write(buf []byte) (int, error) {
	return unix.Write(d.fd, buf)
}

func (d *linuxDevice) Close() error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return nil
	}
	return unix.Close(d.fd)
}
