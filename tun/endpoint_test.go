// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

// endpoint_test.go — Virtual-interface endpoint behavior against a fake
// device: paced writes, read chaining, fail-fast setup and cancellation.
package tun

import (
	"bytes"
	"errors"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/completion"
)

// fakeDevice is an in-memory Device double in the spirit of the project's
// other test fakes. Read blocks on a packet channel until Close.
type fakeDevice struct {
	name    string
	in      chan []byte
	writes  chan []byte
	reads   int64
	closed  chan struct{}
	closeN  int32
	addrErr error
	upErr   error
	addrSet int32
	upSet   int32
}

func newFakeDevice(name string) *fakeDevice {
	return &fakeDevice{
		name:   name,
		in:     make(chan []byte, 64),
		writes: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (d *fakeDevice) Name() string { return d.name }
func (d *fakeDevice) FD() int      { return -1 }

func (d *fakeDevice) SetAddr(addr netip.Prefix) error {
	if d.addrErr != nil {
		return d.addrErr
	}
	atomic.StoreInt32(&d.addrSet, 1)
	return nil
}

func (d *fakeDevice) Up() error {
	if d.upErr != nil {
		return d.upErr
	}
	atomic.StoreInt32(&d.upSet, 1)
	return nil
}

func (d *fakeDevice) Read(buf []byte) (int, error) {
	atomic.AddInt64(&d.reads, 1)
	select {
	case pkt := <-d.in:
		return copy(buf, pkt), nil
	case <-d.closed:
		return 0, errors.New("device closed")
	}
}

func (d *fakeDevice) Write(buf []byte) (int, error) {
	select {
	case <-d.closed:
		return 0, errors.New("device closed")
	default:
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	d.writes <- out
	return len(buf), nil
}

func (d *fakeDevice) Close() error {
	if atomic.AddInt32(&d.closeN, 1) == 1 {
		close(d.closed)
	}
	return nil
}

func testConfig(hooks api.TunHooks) Config {
	return Config{
		Name:  "faketun0",
		Addr:  netip.MustParsePrefix("10.0.0.1/24"),
		Hooks: hooks,
	}
}

func TestEndpoint_SetupFailFast(t *testing.T) {
	port := completion.NewPort(1)
	defer port.Close()

	dev := newFakeDevice("faketun0")
	dev.addrErr = errors.New("address in use")
	ep := NewWithDevice(dev, testConfig(api.TunHooks{}), port)
	if err := ep.Setup(); err == nil {
		t.Fatal("Expected setup failure on address assignment")
	}
	if atomic.LoadInt32(&dev.upSet) != 0 {
		t.Error("Up must not run after a failed address step")
	}

	dev2 := newFakeDevice("faketun1")
	dev2.upErr = errors.New("link stuck")
	ep2 := NewWithDevice(dev2, testConfig(api.TunHooks{}), port)
	if err := ep2.Setup(); err == nil {
		t.Fatal("Expected setup failure on bring-up")
	}
	if atomic.LoadInt32(&dev2.addrSet) != 1 {
		t.Error("Address step should have run before the failed bring-up")
	}
}

// TestEndpoint_QueuedWriteReachesDevice covers the 40-byte pass-through:
// one queued packet, one device write, before-write hook fired first.
func TestEndpoint_QueuedWriteReachesDevice(t *testing.T) {
	port := completion.NewPort(2)
	defer port.Close()

	var beforeWrites int64
	dev := newFakeDevice("faketun0")
	hooks := api.TunHooks{
		BeforeWrite: func(api.PacketWriter) { atomic.AddInt64(&beforeWrites, 1) },
	}
	ep := NewWithDevice(dev, testConfig(hooks), port)
	if err := ep.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := ep.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer ep.Close()

	payload := bytes.Repeat([]byte{0xAB}, 40)
	if !ep.QueueWrite(payload) {
		t.Fatal("QueueWrite failed")
	}

	select {
	case got := <-dev.writes:
		if len(got) != 40 || !bytes.Equal(got, payload) {
			t.Fatalf("Bad write: %d bytes", len(got))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No device write observed")
	}
	if atomic.LoadInt64(&beforeWrites) == 0 {
		t.Error("Expected before-write hook to fire")
	}

	// Exactly one write: nothing else queued.
	select {
	case extra := <-dev.writes:
		t.Fatalf("Unexpected second write of %d bytes", len(extra))
	case <-time.After(50 * time.Millisecond):
	}
}

// TestEndpoint_ReadChaining feeds N packets through the standing read and
// checks N+1 reads were issued: the initial one plus one per completion.
func TestEndpoint_ReadChaining(t *testing.T) {
	port := completion.NewPort(2)
	defer port.Close()

	const n = 5
	received := make(chan []byte, n)
	dev := newFakeDevice("faketun0")
	hooks := api.TunHooks{
		RecvPacket: func(_ api.PacketWriter, pkt []byte) {
			cp := make([]byte, len(pkt))
			copy(cp, pkt)
			received <- cp
		},
	}
	ep := NewWithDevice(dev, testConfig(hooks), port)
	if err := ep.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer ep.Close()

	for i := 0; i < n; i++ {
		dev.in <- []byte{byte(i), 0xEE}
	}
	for i := 0; i < n; i++ {
		select {
		case pkt := <-received:
			if len(pkt) != 2 || pkt[0] != byte(i) {
				t.Fatalf("Packet %d out of order: %v", i, pkt)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Packet %d never delivered", i)
		}
	}

	// The chained read after the last completion may still be starting.
	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&dev.reads) != n+1 {
		select {
		case <-deadline:
			t.Fatalf("Expected %d reads issued, got %d", n+1, atomic.LoadInt64(&dev.reads))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestEndpoint_ReadBufferStableDuringDispatch echoes from inside the
// receive hook and checks the delivered payload is not overwritten by a
// re-armed read while the hook still holds the slice.
func TestEndpoint_ReadBufferStableDuringDispatch(t *testing.T) {
	port := completion.NewPort(4)
	defer port.Close()

	dev := newFakeDevice("faketun0")
	first := bytes.Repeat([]byte{'A'}, 8)
	second := bytes.Repeat([]byte{'B'}, 8)
	dev.in <- first
	dev.in <- second

	mutated := make(chan string, 1)
	var calls int64
	hooks := api.TunHooks{
		RecvPacket: func(w api.PacketWriter, pkt []byte) {
			if atomic.AddInt64(&calls, 1) != 1 {
				return
			}
			w.QueueWrite([]byte("echo"))
			// Give a racing read every chance to land in the buffer.
			time.Sleep(50 * time.Millisecond)
			if !bytes.Equal(pkt, first) {
				select {
				case mutated <- string(pkt):
				default:
				}
			}
		},
	}
	ep := NewWithDevice(dev, testConfig(hooks), port)
	if err := ep.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer ep.Close()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&calls) < 2 {
		select {
		case <-deadline:
			t.Fatalf("Expected 2 deliveries, got %d", atomic.LoadInt64(&calls))
		case <-time.After(5 * time.Millisecond):
		}
	}
	select {
	case got := <-mutated:
		t.Fatalf("Payload overwritten during dispatch: %q", got)
	default:
	}
}

// TestEndpoint_CloseCancelsStandingRead verifies that closing the endpoint
// unblocks the in-flight read and that its completion is not delivered to
// the caller.
func TestEndpoint_CloseCancelsStandingRead(t *testing.T) {
	port := completion.NewPort(2)
	defer port.Close()

	var delivered int64
	dev := newFakeDevice("faketun0")
	hooks := api.TunHooks{
		RecvPacket: func(api.PacketWriter, []byte) { atomic.AddInt64(&delivered, 1) },
	}
	ep := NewWithDevice(dev, testConfig(hooks), port)
	if err := ep.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := ep.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ep.QueueWrite([]byte("late")) {
		t.Error("QueueWrite must fail after close")
	}

	// Give the cancelled read's completion time to flow through a worker.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt64(&delivered); got != 0 {
		t.Errorf("Expected no delivery after close, got %d", got)
	}
}

// TestEndpoint_PortTeardownReleasesDevice checks the global teardown path.
func TestEndpoint_PortTeardownReleasesDevice(t *testing.T) {
	port := completion.NewPort(2)
	dev := newFakeDevice("faketun0")
	ep := NewWithDevice(dev, testConfig(api.TunHooks{}), port)
	if err := ep.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}

	port.Close()
	if atomic.LoadInt32(&dev.closeN) == 0 {
		t.Error("Expected device closed by port teardown")
	}
}
