package dfu

import (
	"sync"
	"sync/atomic"
)

// Test doubles for the supervisor's capabilities. They live in the package
// proper (not a _test file) so that applications embedding a Core can unit
// test against them as well.

// FlashWrite records one accepted write for later inspection
type FlashWrite struct {
	Addr uint32
	Data []byte
}

// MockFlash is a deterministic Flash implementation. Completion is poll
// driven: an accepted write stays in flight for CompleteAfterPolls calls to
// OperationComplete, so tests control latency without any clock coupling.
type MockFlash struct {
	mu sync.Mutex

	// CompleteAfterPolls is how many completion polls a write stays busy
	// for. Zero makes writes complete synchronously.
	CompleteAfterPolls int

	// RejectWrites makes StartWrite refuse everything when set
	RejectWrites bool

	writes    []FlashWrite
	inFlight  bool
	pollsLeft int
}

// NewMockFlash creates a mock flash that completes writes immediately
func NewMockFlash() *MockFlash {
	return &MockFlash{}
}

// StartWrite implements the Flash capability
func (f *MockFlash) StartWrite(addr uint32, p []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RejectWrites || f.inFlight {
		return false
	}

	data := make([]byte, len(p))
	copy(data, p)
	f.writes = append(f.writes, FlashWrite{Addr: addr, Data: data})
	if f.CompleteAfterPolls > 0 {
		f.inFlight = true
		f.pollsLeft = f.CompleteAfterPolls
	}
	return true
}

// OperationComplete implements the Flash capability
func (f *MockFlash) OperationComplete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.inFlight {
		return true
	}
	if f.pollsLeft > 0 {
		f.pollsLeft--
		return false
	}
	f.inFlight = false
	return true
}

// Writes returns a copy of every accepted write in order
func (f *MockFlash) Writes() []FlashWrite {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]FlashWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

// Image reassembles the written bytes as one contiguous image starting at
// the application base address
func (f *MockFlash) Image() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	var img []byte
	for _, w := range f.writes {
		off := int(w.Addr - ApplicationStart)
		if off+len(w.Data) > len(img) {
			grown := make([]byte, off+len(w.Data))
			copy(grown, img)
			img = grown
		}
		copy(img[off:], w.Data)
	}
	return img
}

// ManualClock is a Clock whose microsecond counter only moves when the test
// advances it
type ManualClock struct {
	now atomic.Uint64
}

// NewManualClock creates a clock at tick zero
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Now implements the Clock capability
func (c *ManualClock) Now() uint64 {
	return c.now.Load()
}

// Advance moves the clock forward by us microseconds
func (c *ManualClock) Advance(us uint64) {
	c.now.Add(us)
}

// Set pins the clock to an absolute tick
func (c *ManualClock) Set(us uint64) {
	c.now.Store(us)
}

// WireEvent is one recorded acknowledgement
type WireEvent struct {
	Kind     string // "ack", "nack" or "status"
	NackCode byte

	// Status frame fields, set when Kind is "status"
	State         byte
	BytesReceived uint32
	TotalSize     uint32
}

// RecordingWire records every frame the core emits. It implements
// StatusWire so GET_STATUS exercises the extended form.
type RecordingWire struct {
	mu     sync.Mutex
	events []WireEvent
}

// NewRecordingWire creates an empty recorder
func NewRecordingWire() *RecordingWire {
	return &RecordingWire{}
}

func (w *RecordingWire) SendAck() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, WireEvent{Kind: "ack"})
}

func (w *RecordingWire) SendNack(code byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, WireEvent{Kind: "nack", NackCode: code})
}

func (w *RecordingWire) SendStatus(state byte, bytesReceived, totalSize uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, WireEvent{
		Kind:          "status",
		State:         state,
		BytesReceived: bytesReceived,
		TotalSize:     totalSize,
	})
}

// Events returns a copy of everything recorded so far
func (w *RecordingWire) Events() []WireEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]WireEvent, len(w.events))
	copy(out, w.events)
	return out
}

// Acks counts recorded ACK frames
func (w *RecordingWire) Acks() int {
	n := 0
	for _, e := range w.Events() {
		if e.Kind == "ack" {
			n++
		}
	}
	return n
}

// Nacks returns the recorded NACK codes in order
func (w *RecordingWire) Nacks() []byte {
	var codes []byte
	for _, e := range w.Events() {
		if e.Kind == "nack" {
			codes = append(codes, e.NackCode)
		}
	}
	return codes
}

// LastEvent returns the most recent event, if any
func (w *RecordingWire) LastEvent() (WireEvent, bool) {
	ev := w.Events()
	if len(ev) == 0 {
		return WireEvent{}, false
	}
	return ev[len(ev)-1], true
}

// Clear discards everything recorded so far
func (w *RecordingWire) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = nil
}

// Compile-time interface checks
var _ Flash = (*MockFlash)(nil)
var _ Clock = (*ManualClock)(nil)
var _ StatusWire = (*RecordingWire)(nil)
