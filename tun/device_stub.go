//go:build !linux

// File: tun/device_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub device factory for unsupported platforms.

package tun

import "errors"

// OpenDevice returns an error for unsupported platforms.
func OpenDevice(name string, mtu int) (Device, error) {
	return nil, errors.New("tun: this platform is not supported")
}
