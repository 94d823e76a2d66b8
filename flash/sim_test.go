package flash

import (
	"bytes"
	"testing"

	"github.com/ehrlich-b/go-dfu"
)

func TestSimWriteAndRead(t *testing.T) {
	clock := dfu.NewManualClock()
	sim := NewSim(clock, 0x1000, 4096, 0)

	data := []byte("firmware bytes")
	if !sim.StartWrite(0x1000, data) {
		t.Fatal("StartWrite rejected a valid write")
	}
	if !sim.OperationComplete() {
		t.Fatal("zero-latency write should complete immediately")
	}

	buf := make([]byte, len(data))
	if n := sim.ReadAt(buf, 0x1000); n != len(data) {
		t.Fatalf("ReadAt = %d bytes, want %d", n, len(data))
	}
	if !bytes.Equal(buf, data) {
		t.Errorf("ReadAt got %q, want %q", buf, data)
	}
}

func TestSimBusyUntilLatencyElapses(t *testing.T) {
	clock := dfu.NewManualClock()
	sim := NewSim(clock, 0x1000, 4096, 2000)

	if !sim.StartWrite(0x1000, []byte{1, 2, 3}) {
		t.Fatal("first write rejected")
	}

	if sim.OperationComplete() {
		t.Error("write completed before latency elapsed")
	}
	if sim.StartWrite(0x1100, []byte{4}) {
		t.Error("second write accepted while busy")
	}

	clock.Advance(1999)
	if sim.OperationComplete() {
		t.Error("write completed 1us early")
	}

	clock.Advance(1)
	if !sim.OperationComplete() {
		t.Error("write did not complete at the latency deadline")
	}
	if !sim.StartWrite(0x1100, []byte{4}) {
		t.Error("write rejected after completion")
	}
}

func TestSimRejectsOutOfWindow(t *testing.T) {
	clock := dfu.NewManualClock()
	sim := NewSim(clock, 0x1000, 256, 0)

	if sim.StartWrite(0x0FFF, []byte{1}) {
		t.Error("write below the window accepted")
	}
	if sim.StartWrite(0x1000, make([]byte, 257)) {
		t.Error("write past the window accepted")
	}
	if !sim.StartWrite(0x10FF, []byte{1}) {
		t.Error("write at the last byte rejected")
	}
}

func TestSimBuffersAreCopied(t *testing.T) {
	clock := dfu.NewManualClock()
	sim := NewSim(clock, 0, 16, 0)

	buf := []byte{0xAA, 0xBB}
	sim.StartWrite(0, buf)
	buf[0] = 0x00 // caller reuses the buffer immediately

	out := make([]byte, 2)
	sim.ReadAt(out, 0)
	if out[0] != 0xAA {
		t.Error("sim retained the caller's buffer instead of copying")
	}
}

func TestApplicationSimServesCore(t *testing.T) {
	clock := dfu.NewManualClock()
	sim := NewApplicationSim(clock, 0)
	wire := dfu.NewRecordingWire()

	core, err := dfu.New(dfu.Config{Flash: sim, Clock: clock, Wire: wire})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	image := bytes.Repeat([]byte{0x3C}, 64)
	crc := dfu.CRC16(image)

	core.ReceivePacket([]byte{0, dfu.TypeStartSession, 0, 0, 0, 64, byte(crc >> 8), byte(crc)})
	core.ReceivePacket(append([]byte{1, dfu.TypeData}, image...))
	core.ReceivePacket([]byte{2, dfu.TypeEndSession})
	for i := 0; i < 4; i++ {
		core.ProcessCycle()
	}

	if core.State() != dfu.StateIdle {
		t.Fatalf("state = %s, want IDLE after launch", core.State())
	}
	if got := sim.Image(64); !bytes.Equal(got, image) {
		t.Error("flash contents do not match the transferred image")
	}
}
