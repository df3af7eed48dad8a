// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error values shared across the netloop packages.

package api

import "errors"

var (
	// ErrClosed reports use of a loop, port or endpoint after teardown.
	ErrClosed = errors.New("netloop: closed")

	// ErrBadAddressFamily reports an address family outside the accepted
	// set for the operation (IPv4/IPv6 for UDP; IPv4/IPv6/unix for TCP).
	ErrBadAddressFamily = errors.New("netloop: unsupported address family")

	// ErrNotRunning reports a tick or run attempt on an uninitialized loop.
	ErrNotRunning = errors.New("netloop: event loop not running")

	// ErrShouldClose reports an operation on an endpoint already marked
	// for closure.
	ErrShouldClose = errors.New("netloop: endpoint marked for closure")
)
