// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tun bridges a virtual network interface device to the completion
// backend and the CoDel write pacing queue. Inbound packets are read through
// a continuously re-issued standing read; outbound packets are paced through
// a lossy delay-bounded queue before being written to the device.
package tun
