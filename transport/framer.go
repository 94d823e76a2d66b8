// Package transport carries dfu packets over byte-stream links. Frames are
// delimited with a sync byte and checked with the core's CRC so the decoder
// can resynchronise after line noise instead of wedging mid-stream.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ehrlich-b/go-dfu"
)

// Frame layout: SOF, big-endian u16 payload length, payload, big-endian u16
// CRC-16/CCITT over the payload.
const (
	// SOF marks the start of every frame
	SOF = 0x7E

	// HeaderSize is SOF plus the length field
	HeaderSize = 3

	// TrailerSize is the CRC field
	TrailerSize = 2

	// MaxPayload bounds a frame's payload; it matches the largest packet
	// the core accepts
	MaxPayload = dfu.MaxPacketSize
)

// Response codes carried as the first payload byte of device-to-host frames
const (
	RespAck    = 0x79
	RespNack   = 0x1F
	RespStatus = 0x3C
)

// ErrPayloadTooLarge is returned by WriteFrame for empty or oversize payloads
var ErrPayloadTooLarge = errors.New("transport: payload exceeds frame limit")

// WriteFrame encodes one payload as a single frame on w
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}

	buf := make([]byte, HeaderSize+len(payload)+TrailerSize)
	buf[0] = SOF
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)
	binary.BigEndian.PutUint16(buf[HeaderSize+len(payload):], dfu.CRC16(payload))

	_, err := w.Write(buf)
	return err
}

// Decoder extracts frames from a byte stream. Garbage between frames and
// frames with a bad CRC are skipped by scanning forward to the next sync
// byte, so a corrupted link degrades to packet loss rather than desync.
type Decoder struct {
	r   io.Reader
	buf []byte
	n   int
	out []byte
}

// NewDecoder creates a Decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, 4*(HeaderSize+MaxPayload+TrailerSize)),
		out: make([]byte, 0, MaxPayload),
	}
}

// Next blocks until one whole valid frame is available and returns its
// payload. The returned slice is only valid until the next call.
func (d *Decoder) Next() ([]byte, error) {
	for {
		if payload, ok := d.extract(); ok {
			return payload, nil
		}

		if d.n == len(d.buf) {
			// Buffer full without a parsable frame: drop the leading
			// byte so scanning can make progress
			copy(d.buf, d.buf[1:d.n])
			d.n--
		}

		m, err := d.r.Read(d.buf[d.n:])
		d.n += m
		if err != nil {
			if payload, ok := d.extract(); ok {
				return payload, nil
			}
			return nil, err
		}
	}
}

// extract tries to parse one frame from the front of the buffer. It discards
// garbage before the first sync byte and corrupt frames as a side effect.
func (d *Decoder) extract() ([]byte, bool) {
	for {
		// Hunt for SOF
		start := -1
		for i := 0; i < d.n; i++ {
			if d.buf[i] == SOF {
				start = i
				break
			}
		}
		if start < 0 {
			d.n = 0
			return nil, false
		}
		if start > 0 {
			copy(d.buf, d.buf[start:d.n])
			d.n -= start
		}

		if d.n < HeaderSize {
			return nil, false
		}

		length := int(binary.BigEndian.Uint16(d.buf[1:3]))
		if length == 0 || length > MaxPayload {
			// Not a real header: skip this sync byte and rescan
			d.skip(1)
			continue
		}

		total := HeaderSize + length + TrailerSize
		if d.n < total {
			return nil, false
		}

		payload := d.buf[HeaderSize : HeaderSize+length]
		crc := binary.BigEndian.Uint16(d.buf[HeaderSize+length : total])
		if dfu.CRC16(payload) != crc {
			d.skip(1)
			continue
		}

		// Copy out before skip shifts the buffer underneath it
		d.out = append(d.out[:0], payload...)
		d.skip(total)
		return d.out, true
	}
}

// skip drops n leading bytes
func (d *Decoder) skip(n int) {
	if n >= d.n {
		d.n = 0
		return
	}
	copy(d.buf, d.buf[n:d.n])
	d.n -= n
}

// Response is a decoded device-to-host payload
type Response struct {
	Code     byte
	NackCode byte

	// Status fields, valid when Code is RespStatus
	State         byte
	BytesReceived uint32
	TotalSize     uint32
}

// ParseResponse decodes a response payload from the device
func ParseResponse(payload []byte) (Response, error) {
	if len(payload) == 0 {
		return Response{}, errors.New("transport: empty response")
	}
	switch payload[0] {
	case RespAck:
		return Response{Code: RespAck}, nil
	case RespNack:
		if len(payload) < 2 {
			return Response{}, errors.New("transport: truncated nack")
		}
		return Response{Code: RespNack, NackCode: payload[1]}, nil
	case RespStatus:
		if len(payload) < 10 {
			return Response{}, errors.New("transport: truncated status")
		}
		return Response{
			Code:          RespStatus,
			State:         payload[1],
			BytesReceived: binary.BigEndian.Uint32(payload[2:6]),
			TotalSize:     binary.BigEndian.Uint32(payload[6:10]),
		}, nil
	default:
		return Response{}, fmt.Errorf("transport: unknown response code 0x%02X", payload[0])
	}
}
