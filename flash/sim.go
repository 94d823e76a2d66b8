// Package flash provides flash driver implementations for the dfu core
package flash

import (
	"sync"

	"github.com/ehrlich-b/go-dfu"
)

// Sim simulates an asynchronous flash peripheral backed by RAM. A write is
// accepted only while no other operation is in flight and completes after a
// configurable latency measured against the injected clock, which gives
// harnesses the same busy/complete behaviour a real peripheral shows without
// touching hardware.
type Sim struct {
	mu sync.Mutex

	clock        dfu.Clock
	base         uint32
	mem          []byte
	writeLatency uint64 // microseconds per accepted write

	inFlight bool
	readyAt  uint64
}

// NewSim creates a simulated flash covering size bytes starting at base.
// writeLatencyUs is how long each accepted write stays busy.
func NewSim(clock dfu.Clock, base uint32, size int, writeLatencyUs uint64) *Sim {
	return &Sim{
		clock:        clock,
		base:         base,
		mem:          make([]byte, size),
		writeLatency: writeLatencyUs,
	}
}

// NewApplicationSim creates a simulated flash covering the application
// window the bootloader programs
func NewApplicationSim(clock dfu.Clock, writeLatencyUs uint64) *Sim {
	return &Sim{
		clock:        clock,
		base:         dfu.ApplicationStart,
		mem:          make([]byte, dfu.MaxImageSize),
		writeLatency: writeLatencyUs,
	}
}

// StartWrite implements the Flash capability. The destination range must
// fall inside the simulated window; the caller's buffer is copied before
// return.
func (s *Sim) StartWrite(addr uint32, p []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busyLocked() {
		return false
	}
	if addr < s.base {
		return false
	}
	off := int(addr - s.base)
	if off+len(p) > len(s.mem) {
		return false
	}

	copy(s.mem[off:], p)
	s.inFlight = true
	s.readyAt = s.clock.Now() + s.writeLatency
	return true
}

// OperationComplete implements the Flash capability
func (s *Sim) OperationComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.busyLocked() {
		s.inFlight = false
		return true
	}
	return false
}

func (s *Sim) busyLocked() bool {
	return s.inFlight && s.clock.Now() < s.readyAt
}

// ReadAt copies simulated flash contents for harness verification
func (s *Sim) ReadAt(p []byte, addr uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr < s.base {
		return 0
	}
	off := int(addr - s.base)
	if off >= len(s.mem) {
		return 0
	}
	return copy(p, s.mem[off:])
}

// Image returns the first size bytes of the application window
func (s *Sim) Image(size int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if size > len(s.mem) {
		size = len(s.mem)
	}
	out := make([]byte, size)
	copy(out, s.mem[:size])
	return out
}

var _ dfu.Flash = (*Sim)(nil)
