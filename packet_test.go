package dfu

import (
	"bytes"
	"testing"
)

func TestPacketAccessors(t *testing.T) {
	var q PacketQueue
	raw := []byte{0x07, TypeData, 0xDE, 0xAD, 0xBE, 0xEF}
	if !q.Enqueue(raw) {
		t.Fatal("enqueue failed")
	}

	var pkt Packet
	if !q.Dequeue(&pkt) {
		t.Fatal("dequeue failed")
	}

	if pkt.Sequence() != 0x07 {
		t.Errorf("Sequence() = %d, want 7", pkt.Sequence())
	}
	if pkt.Type() != TypeData {
		t.Errorf("Type() = 0x%02X, want 0x02", pkt.Type())
	}
	if pkt.Len() != 6 {
		t.Errorf("Len() = %d, want 6", pkt.Len())
	}
	if !bytes.Equal(pkt.Payload(), []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("Payload() = %x", pkt.Payload())
	}
	if !bytes.Equal(pkt.Bytes(), raw) {
		t.Errorf("Bytes() = %x", pkt.Bytes())
	}
}

func TestParseSessionRequest(t *testing.T) {
	req, ok := parseSessionRequest([]byte{0x00, 0x10, 0x00, 0x00, 0x12, 0x34})
	if !ok {
		t.Fatal("parse failed")
	}
	if req.TotalSize != 0x100000 {
		t.Errorf("TotalSize = %d, want 1 MiB", req.TotalSize)
	}
	if req.ExpectedCRC != 0x1234 {
		t.Errorf("ExpectedCRC = 0x%04X, want 0x1234", req.ExpectedCRC)
	}

	// The legacy two-byte size form is insufficient
	if _, ok := parseSessionRequest([]byte{0x02, 0x00}); ok {
		t.Error("two-byte payload should not parse")
	}
	if _, ok := parseSessionRequest(nil); ok {
		t.Error("empty payload should not parse")
	}
}
