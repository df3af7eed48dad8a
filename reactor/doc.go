// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness-based multiplexing backend: a
// platform-neutral EventReactor interface with a Linux epoll implementation.
// The OS reports which registered descriptors can perform I/O without
// blocking; the event loop then issues the operations.
package reactor
