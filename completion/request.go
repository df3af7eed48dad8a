// File: completion/request.go
// Author: momentics <momentics@gmail.com>
//
// In-flight I/O request records. The buffer referenced by a pending request
// must remain valid and unmodified until the completion is observed; the
// record itself is released exactly once, by whichever side observes the
// completion. Double release panics.

package completion

import "sync/atomic"

// Direction tags an in-flight request as a read or a write.
type Direction uint8

const (
	// DirRead marks a read request.
	DirRead Direction = iota
	// DirWrite marks a write request.
	DirWrite
)

func (d Direction) String() string {
	if d == DirWrite {
		return "write"
	}
	return "read"
}

// Request pairs one outstanding asynchronous operation with its direction,
// byte count and buffer. Requests are obtained from a Port and returned to
// its pool on release.
type Request struct {
	// Dir is the operation direction.
	Dir Direction

	// Buf is the caller-supplied buffer. Owned by the request until the
	// completion is observed.
	Buf []byte

	// N is the completed byte count.
	N int

	// Err is the operation's result.
	Err error

	owner    Handler
	released int32
}

// Owner returns the endpoint the request belongs to.
func (r *Request) Owner() Handler { return r.owner }

// release marks the request released. Releasing twice is a use-after-free
// in the making and panics immediately.
func (r *Request) release() {
	if !atomic.CompareAndSwapInt32(&r.released, 0, 1) {
		panic("completion: request released twice")
	}
}
