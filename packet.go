package dfu

import (
	"encoding/binary"

	"github.com/ehrlich-b/go-dfu/internal/constants"
)

// Packet is one received wire packet. Byte 0 is the sequence number, byte 1
// the type code, and the remainder is type-specific payload. A Packet is
// filled by the queue's dequeue and never escapes the supervisor's cycle.
type Packet struct {
	data   [constants.MaxPacketSize]byte
	length int
}

// Sequence returns the peer-assigned sequence byte
func (p *Packet) Sequence() byte {
	return p.data[0]
}

// Type returns the packet type code
func (p *Packet) Type() byte {
	return p.data[1]
}

// Len returns the used length in bytes
func (p *Packet) Len() int {
	return p.length
}

// Bytes returns the used portion of the packet buffer
func (p *Packet) Bytes() []byte {
	return p.data[:p.length]
}

// Payload returns the type-specific bytes after the two-byte header
func (p *Packet) Payload() []byte {
	return p.data[constants.DataPayloadOffset:p.length]
}

// SessionRequest is the decoded START_SESSION payload
type SessionRequest struct {
	TotalSize   uint32
	ExpectedCRC uint16
}

// parseSessionRequest decodes the 6-byte big-endian START_SESSION payload.
// It reports false when the payload is too short to carry both fields.
func parseSessionRequest(payload []byte) (SessionRequest, bool) {
	if len(payload) < constants.StartSessionPayloadSize {
		return SessionRequest{}, false
	}
	return SessionRequest{
		TotalSize:   binary.BigEndian.Uint32(payload[0:4]),
		ExpectedCRC: binary.BigEndian.Uint16(payload[4:6]),
	}, true
}
