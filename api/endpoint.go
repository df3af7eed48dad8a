// File: api/endpoint.go
// Author: momentics <momentics@gmail.com>
//
// Polymorphic endpoint contract shared by the readiness and completion
// backends. The variant set is closed: TCP connection, TCP acceptor,
// UDP socket, virtual interface.

package api

// Endpoint is one registered, independently lifecycled unit of I/O known
// to an event loop. Each endpoint owns exactly one OS descriptor and is
// registered with at most one backend at a time.
type Endpoint interface {
	// FD returns the endpoint's OS descriptor.
	FD() int

	// Read performs one receive into buf and delivers the result to the
	// caller-registered handler. Acceptors accept a pending connection
	// instead. A failed read marks the endpoint as should-close.
	Read(buf []byte) error

	// FlushWrite transfers queued outbound data to the OS.
	FlushWrite()

	// Fail is invoked when the backend reports an OS-level error condition
	// on the descriptor. Default behavior marks the endpoint for closure.
	Fail()

	// Tick is the optional periodic housekeeping hook. Variants without
	// housekeeping implement it as a no-op.
	Tick()

	// ShouldClose reports whether the endpoint has marked itself for
	// closure after a failed operation.
	ShouldClose() bool

	// Close releases the endpoint's OS resources. The loop deregisters the
	// endpoint from its backend before calling Close.
	Close() error
}
