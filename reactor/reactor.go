// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface.

package reactor

// EventType is a bitmask of readiness conditions reported for a descriptor.
type EventType uint8

const (
	// EventRead reports the descriptor is readable.
	EventRead EventType = 1 << iota
	// EventWrite reports the descriptor is writable.
	EventWrite
	// EventError reports an OS-level error or hangup on the descriptor.
	EventError
)

// Event is one readiness notification returned by Wait.
type Event struct {
	Fd     int
	Events EventType
}

// EventReactor defines basic readiness-multiplexing operations across OS
// platforms.
type EventReactor interface {
	// Register adds a descriptor to the interest set. Read and error
	// conditions are always watched; wantWrite adds write readiness.
	Register(fd int, wantWrite bool) error

	// Modify rewrites a registered descriptor's interest. Read and error
	// conditions stay watched; wantWrite toggles write readiness.
	Modify(fd int, wantWrite bool) error

	// Unregister removes a descriptor from the interest set.
	Unregister(fd int) error

	// Wait blocks up to timeoutMs for readiness events and writes them
	// into the output slice. Returns the number of events written.
	// timeoutMs < 0 blocks indefinitely.
	Wait(events []Event, timeoutMs int) (int, error)

	// Close releases the reactor's OS handle.
	Close() error
}
