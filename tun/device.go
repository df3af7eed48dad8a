// File: tun/device.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral virtual-interface device abstraction and configuration.

package tun

import (
	"net/netip"

	"github.com/momentics/netloop/api"
)

// Device is an opened virtual network interface. Read and Write block; the
// endpoint drives them from dedicated goroutines and collects the results
// through the completion channel.
type Device interface {
	// Name returns the OS interface name (e.g. "netloop0").
	Name() string

	// FD returns the device descriptor, or -1 when not descriptor-backed.
	FD() int

	// SetAddr assigns the interface address and netmask.
	SetAddr(addr netip.Prefix) error

	// Up brings the interface up.
	Up() error

	// Read reads one packet. Blocks until a packet arrives or the device
	// is closed.
	Read(buf []byte) (int, error)

	// Write writes one packet.
	Write(buf []byte) (int, error)

	// Close releases the device and unblocks pending reads. Idempotent.
	Close() error
}

// Config describes one virtual interface.
type Config struct {
	// Name is the requested interface name. Empty lets the OS choose.
	Name string

	// Addr is the interface address with its prefix length, e.g.
	// 10.0.0.1/24. IPv4 only.
	Addr netip.Prefix

	// MTU is applied at setup; zero keeps the OS default.
	MTU int

	// Hooks are the caller's packet callbacks.
	Hooks api.TunHooks
}
