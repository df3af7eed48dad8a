// File: api/hooks.go
// Author: momentics <momentics@gmail.com>
//
// Caller-supplied callback bundles, registered at endpoint creation and
// invoked by the backends. Callbacks run on the loop thread (readiness
// regime) or on a completion worker (completion regime) and must not
// perform long blocking work.

package api

import "net/netip"

// PacketWriter queues one outbound packet on a virtual interface. Queued
// packets are paced by the interface's write queue and may be dropped
// silently under sustained backpressure.
type PacketWriter interface {
	QueueWrite(pkt []byte) bool
}

// Sender issues one datagram send on a UDP socket.
type Sender interface {
	SendTo(to netip.AddrPort, payload []byte) error
}

// Conn is the caller-facing surface of an established TCP connection.
type Conn interface {
	Endpoint

	// QueueWrite appends data to the connection's outbound queue. It
	// reports false once the connection is marked for closure.
	QueueWrite(data []byte) bool
}

// TunHooks are the callbacks of a virtual-interface endpoint.
type TunHooks struct {
	// RecvPacket delivers one inbound packet. The payload is only valid
	// for the duration of the call.
	RecvPacket func(w PacketWriter, pkt []byte)

	// BeforeWrite fires before each pacing-queue drain.
	BeforeWrite func(w PacketWriter)

	// Tick is optional periodic housekeeping.
	Tick func(w PacketWriter)
}

// UDPHooks are the callbacks of a UDP socket endpoint.
type UDPHooks struct {
	// RecvFrom delivers one datagram with its source address.
	RecvFrom func(s Sender, from netip.AddrPort, payload []byte)

	// Tick is optional periodic housekeeping (keep-alives and the like).
	Tick func(s Sender)
}

// ConnHooks are the callbacks of an outbound or accepted TCP connection.
type ConnHooks struct {
	// Connected fires exactly once, either immediately on a synchronous
	// connect or on the first successful flush after a pending connect.
	Connected func(c Conn)

	// Read delivers received bytes. The slice is only valid for the
	// duration of the call.
	Read func(c Conn, data []byte)

	// Closed fires when the connection is removed from the loop.
	Closed func(c Conn)

	// Error reports a connect or I/O failure. No automatic retry is
	// performed; retry policy belongs to the caller.
	Error func(err error)
}

// AcceptHooks are the callbacks of a TCP acceptor endpoint.
type AcceptHooks struct {
	// Accepted fires once per inbound connection, after the new
	// connection has been registered with the loop.
	Accepted func(listener Endpoint, c Conn)

	// Closed fires when the acceptor is removed from the loop.
	Closed func()

	// Conn supplies the hook bundle installed on accepted connections.
	Conn ConnHooks
}
