package flash

import (
	"bytes"
	"testing"

	"github.com/ehrlich-b/go-dfu"
)

func TestRecorderTracksOutcomes(t *testing.T) {
	clock := dfu.NewManualClock()
	rec := NewRecorder(NewSim(clock, 0x1000, 4096, 2000))

	if !rec.StartWrite(0x1000, []byte{0x01, 0x02}) {
		t.Fatal("first write rejected")
	}
	if rec.StartWrite(0x1002, []byte{0x03}) {
		t.Fatal("second write accepted while busy")
	}

	writes := rec.Writes()
	if len(writes) != 2 {
		t.Fatalf("recorded %d writes, want 2", len(writes))
	}
	if !writes[0].Accepted || writes[0].Addr != 0x1000 || !bytes.Equal(writes[0].Data, []byte{0x01, 0x02}) {
		t.Errorf("first record = %+v", writes[0])
	}
	if writes[1].Accepted {
		t.Errorf("busy write recorded as accepted: %+v", writes[1])
	}

	if got := len(rec.Accepted()); got != 1 {
		t.Errorf("Accepted() = %d records, want 1", got)
	}
	if got := len(rec.Rejected()); got != 1 {
		t.Errorf("Rejected() = %d records, want 1", got)
	}
}

func TestRecorderCountsPolls(t *testing.T) {
	clock := dfu.NewManualClock()
	rec := NewRecorder(NewSim(clock, 0, 64, 1000))

	rec.StartWrite(0, []byte{0xAA})
	if rec.OperationComplete() {
		t.Fatal("write completed before latency elapsed")
	}
	clock.Advance(1000)
	if !rec.OperationComplete() {
		t.Fatal("write did not complete at deadline")
	}

	if got := rec.Polls(); got != 2 {
		t.Errorf("Polls() = %d, want 2", got)
	}
	if got := rec.Completions(); got != 1 {
		t.Errorf("Completions() = %d, want 1", got)
	}

	rec.Reset()
	if len(rec.Writes()) != 0 || rec.Polls() != 0 || rec.Completions() != 0 {
		t.Error("Reset left recorded state")
	}
}

// The recorder is transparent to the supervisor: a full transfer through a
// wrapped driver behaves exactly like the bare driver.
func TestRecorderServesCore(t *testing.T) {
	clock := dfu.NewManualClock()
	sim := NewApplicationSim(clock, 0)
	rec := NewRecorder(sim)
	wire := dfu.NewRecordingWire()

	core, err := dfu.New(dfu.Config{Flash: rec, Clock: clock, Wire: wire})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	image := bytes.Repeat([]byte{0x5A}, 96)
	crc := dfu.CRC16(image)
	core.ReceivePacket([]byte{0, dfu.TypeStartSession, 0, 0, 0, 96, byte(crc >> 8), byte(crc)})
	core.ReceivePacket(append([]byte{1, dfu.TypeData}, image[:48]...))
	core.ReceivePacket(append([]byte{2, dfu.TypeData}, image[48:]...))
	core.ReceivePacket([]byte{3, dfu.TypeEndSession})
	for i := 0; i < 4; i++ {
		core.ProcessCycle()
	}

	if core.State() != dfu.StateIdle {
		t.Fatalf("state = %s, want IDLE after launch", core.State())
	}

	accepted := rec.Accepted()
	if len(accepted) != 2 {
		t.Fatalf("accepted writes = %d, want 2", len(accepted))
	}
	if accepted[0].Addr != dfu.ApplicationStart || accepted[1].Addr != dfu.ApplicationStart+48 {
		t.Errorf("write addresses = 0x%X, 0x%X", accepted[0].Addr, accepted[1].Addr)
	}
	if got := sim.Image(96); !bytes.Equal(got, image) {
		t.Error("flash contents do not match the transferred image")
	}
}
