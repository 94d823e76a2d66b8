package dfu

import "testing"

func TestCRC16KnownVectors(t *testing.T) {
	// CRC-16/CCITT-FALSE reference values
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0xFFFF},
		{"check string", []byte("123456789"), 0x29B1},
		{"single zero", []byte{0x00}, 0xE1F0},
		{"single ff", []byte{0xFF}, 0xFF00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC16(tt.data); got != tt.want {
				t.Errorf("CRC16(%q) = 0x%04X, want 0x%04X", tt.data, got, tt.want)
			}
		})
	}
}

func TestCRC16StreamingMatchesOneShot(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	d := NewCRC16()
	d.Write(data[:10])
	d.Write(data[10:17])
	d.Write(data[17:])

	if got, want := d.Sum16(), CRC16(data); got != want {
		t.Errorf("streaming = 0x%04X, one-shot = 0x%04X", got, want)
	}
}

func TestCRC16Reset(t *testing.T) {
	d := NewCRC16()
	d.Write([]byte{0xDE, 0xAD})
	d.Reset()
	d.Write([]byte("123456789"))

	if got := d.Sum16(); got != 0x29B1 {
		t.Errorf("Sum16 after Reset = 0x%04X, want 0x29B1", got)
	}
}

func TestCRC16Sensitivity(t *testing.T) {
	a := CRC16([]byte{0x01, 0x02, 0x03})
	b := CRC16([]byte{0x01, 0x02, 0x04})
	c := CRC16([]byte{0x02, 0x01, 0x03})

	if a == b || a == c {
		t.Errorf("distinct inputs collided: %04X %04X %04X", a, b, c)
	}
}
