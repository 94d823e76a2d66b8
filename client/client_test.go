package client

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-dfu"
	"github.com/ehrlich-b/go-dfu/transport"
)

// startDevice runs a real bootloader core behind one end of an in-memory
// connection and returns the host end.
func startDevice(t *testing.T) (net.Conn, *dfu.MockFlash) {
	t.Helper()

	hostConn, devConn := net.Pipe()
	flash := dfu.NewMockFlash()
	clock := dfu.NewSystemClock()
	wire := transport.NewWireSender(devConn, nil)

	core, err := dfu.New(dfu.Config{Flash: flash, Clock: clock, Wire: wire})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = transport.Serve(ctx, core, devConn, time.Millisecond, nil)
	}()

	t.Cleanup(func() {
		cancel()
		hostConn.Close()
		devConn.Close()
		<-done
	})

	return hostConn, flash
}

func TestClientPing(t *testing.T) {
	conn, _ := startDevice(t)
	c := New(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Ping(ctx))
}

func TestClientStatus(t *testing.T) {
	conn, _ := startDevice(t)
	c := New(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(dfu.StateIdle), st.State)
	assert.Zero(t, st.BytesReceived)
	assert.Zero(t, st.TotalSize)
}

func TestClientProgramLoopback(t *testing.T) {
	conn, flash := startDevice(t)

	var phases []string
	c := New(conn,
		WithChunkSize(64),
		WithProgressCallback(func(p Progress) {
			phases = append(phases, p.Phase)
		}),
	)

	image := bytes.Repeat([]byte{0xF0, 0x0D}, 200) // 400 bytes, 7 chunks

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Program(ctx, image))

	// Every byte reached flash in order
	assert.Equal(t, image, flash.Image())

	require.NotEmpty(t, phases)
	assert.Equal(t, "starting", phases[0])
	assert.Equal(t, "complete", phases[len(phases)-1])
}

func TestClientProgramRejectsBadImages(t *testing.T) {
	c := New(nil)

	ctx := context.Background()
	assert.Error(t, c.Program(ctx, nil))
	assert.Error(t, c.Program(ctx, make([]byte, dfu.MaxImageSize+1)))
}

// fakeDevice scripts responses without a real core behind it
type fakeDevice struct {
	conn net.Conn
	dec  *transport.Decoder
}

func newFakeDevice(t *testing.T) (*fakeDevice, net.Conn) {
	t.Helper()
	hostConn, devConn := net.Pipe()
	t.Cleanup(func() {
		hostConn.Close()
		devConn.Close()
	})
	return &fakeDevice{conn: devConn, dec: transport.NewDecoder(devConn)}, hostConn
}

func (d *fakeDevice) reply(payload []byte) error {
	if _, err := d.dec.Next(); err != nil {
		return err
	}
	return transport.WriteFrame(d.conn, payload)
}

func TestClientRetriesFlashBusy(t *testing.T) {
	dev, hostConn := newFakeDevice(t)

	go func() {
		_ = dev.reply([]byte{transport.RespAck})                          // START_SESSION
		_ = dev.reply([]byte{transport.RespNack, dfu.NackFlashBusy})      // DATA, first try
		_ = dev.reply([]byte{transport.RespNack, dfu.NackFlashBusy})      // DATA, second try
		_ = dev.reply([]byte{transport.RespAck})                          // DATA, third try
		_ = dev.reply([]byte{transport.RespAck})                          // END_SESSION
	}()

	c := New(hostConn, WithBusyRetry(5, time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Program(ctx, bytes.Repeat([]byte{0x01}, 32)))
}

func TestClientSurfacesNack(t *testing.T) {
	dev, hostConn := newFakeDevice(t)

	go func() {
		_ = dev.reply([]byte{transport.RespNack, dfu.NackBootloaderForced}) // START_SESSION
	}()

	c := New(hostConn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Program(ctx, []byte{0x01, 0x02})
	require.Error(t, err)

	var nack *NackError
	require.ErrorAs(t, err, &nack)
	assert.Equal(t, byte(dfu.NackBootloaderForced), nack.Code)
	assert.Equal(t, "START_SESSION", nack.Op)
}
