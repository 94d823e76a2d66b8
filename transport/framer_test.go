package transport

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-dfu"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payloads := [][]byte{
		{0x01, dfu.TypePing},
		{0x02, dfu.TypeData, 0xDE, 0xAD, 0xBE, 0xEF},
		bytes.Repeat([]byte{0x55}, MaxPayload),
	}
	for _, p := range payloads {
		require.NoError(t, WriteFrame(&buf, p))
	}

	dec := NewDecoder(&buf)
	for _, want := range payloads {
		got, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteFrameRejectsBadPayloads(t *testing.T) {
	var buf bytes.Buffer

	assert.ErrorIs(t, WriteFrame(&buf, nil), ErrPayloadTooLarge)
	assert.ErrorIs(t, WriteFrame(&buf, make([]byte, MaxPayload+1)), ErrPayloadTooLarge)
	assert.Zero(t, buf.Len())
}

func TestDecoderSkipsLeadingGarbage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x13, 0x37, 0xFF}) // line noise before the frame
	require.NoError(t, WriteFrame(&buf, []byte{0x01, dfu.TypePing}))

	dec := NewDecoder(&buf)
	got, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, dfu.TypePing}, got)
}

func TestDecoderResyncsAfterCorruptFrame(t *testing.T) {
	var buf bytes.Buffer

	var corrupt bytes.Buffer
	require.NoError(t, WriteFrame(&corrupt, []byte{0x01, dfu.TypeData, 0x11, 0x22}))
	frame := corrupt.Bytes()
	frame[len(frame)-1] ^= 0xFF // break the CRC
	buf.Write(frame)

	require.NoError(t, WriteFrame(&buf, []byte{0x02, dfu.TypePing}))

	dec := NewDecoder(&buf)
	got, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, dfu.TypePing}, got, "decoder should skip the corrupt frame")
}

func TestDecoderHandlesFragmentedReads(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{0xA1}, 40)
	require.NoError(t, WriteFrame(&buf, payload))

	dec := NewDecoder(iotest(buf.Bytes()))
	got, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// iotest returns a reader that delivers one byte per Read call
func iotest(data []byte) io.Reader {
	return &oneByteReader{data: data}
}

type oneByteReader struct {
	data []byte
	pos  int
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse([]byte{RespAck})
	require.NoError(t, err)
	assert.Equal(t, byte(RespAck), resp.Code)

	resp, err = ParseResponse([]byte{RespNack, 0x03})
	require.NoError(t, err)
	assert.Equal(t, byte(RespNack), resp.Code)
	assert.Equal(t, byte(0x03), resp.NackCode)

	resp, err = ParseResponse([]byte{RespStatus, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x00})
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), resp.State)
	assert.Equal(t, uint32(256), resp.BytesReceived)
	assert.Equal(t, uint32(512), resp.TotalSize)

	_, err = ParseResponse(nil)
	assert.Error(t, err)
	_, err = ParseResponse([]byte{RespNack})
	assert.Error(t, err)
	_, err = ParseResponse([]byte{0xEE})
	assert.Error(t, err)
}

func TestWireSenderFrames(t *testing.T) {
	var buf bytes.Buffer
	sender := NewWireSender(&buf, nil)

	sender.SendAck()
	sender.SendNack(0x02)
	sender.SendStatus(0x01, 256, 512)
	require.NoError(t, sender.Err())

	dec := NewDecoder(&buf)

	payload, err := dec.Next()
	require.NoError(t, err)
	resp, err := ParseResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, byte(RespAck), resp.Code)

	payload, err = dec.Next()
	require.NoError(t, err)
	resp, err = ParseResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, byte(RespNack), resp.Code)
	assert.Equal(t, byte(0x02), resp.NackCode)

	payload, err = dec.Next()
	require.NoError(t, err)
	resp, err = ParseResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, byte(RespStatus), resp.Code)
	assert.Equal(t, uint32(256), resp.BytesReceived)
	assert.Equal(t, uint32(512), resp.TotalSize)
}
