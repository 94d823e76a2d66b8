// Package client drives a remote dfu bootloader from the host side: it
// frames command packets onto a byte stream, tracks sequence numbers, and
// interprets the ACK/NACK/status frames coming back.
package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ehrlich-b/go-dfu"
	"github.com/ehrlich-b/go-dfu/internal/interfaces"
	"github.com/ehrlich-b/go-dfu/transport"
)

// Progress reports programming progress to the configured callback
type Progress struct {
	Phase        string // "starting", "programming", "finishing", "complete"
	BytesWritten int
	TotalBytes   int
	Percentage   float64
	ElapsedTime  time.Duration
}

// Config holds client tunables; set via Options
type Config struct {
	ChunkSize        int
	BusyRetries      int
	BusyRetryDelay   time.Duration
	ReadTimeout      time.Duration
	ProgressCallback func(Progress)
	Logger           interfaces.Logger
}

// Option mutates the client configuration
type Option func(*Config)

// WithChunkSize sets the DATA payload size per packet
func WithChunkSize(n int) Option {
	return func(c *Config) { c.ChunkSize = n }
}

// WithBusyRetry sets how often and how patiently a flash-busy NACK is retried
func WithBusyRetry(retries int, delay time.Duration) Option {
	return func(c *Config) {
		c.BusyRetries = retries
		c.BusyRetryDelay = delay
	}
}

// WithReadTimeout bounds each reply wait when the stream supports deadlines
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReadTimeout = d }
}

// WithProgressCallback installs a progress callback
func WithProgressCallback(fn func(Progress)) Option {
	return func(c *Config) { c.ProgressCallback = fn }
}

// WithLogger installs a logger
func WithLogger(l interfaces.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func defaultConfig() Config {
	return Config{
		ChunkSize:      128,
		BusyRetries:    10,
		BusyRetryDelay: 5 * time.Millisecond,
		ReadTimeout:    2 * time.Second,
	}
}

// NackError is a negative acknowledgement from the device
type NackError struct {
	Op   string
	Code byte
}

func (e *NackError) Error() string {
	return fmt.Sprintf("client: %s rejected with nack 0x%02X", e.Op, e.Code)
}

// deadlineSetter is implemented by net.Conn and similar streams
type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
}

// Client talks to one remote bootloader over an io.ReadWriter
type Client struct {
	rw     io.ReadWriter
	dec    *transport.Decoder
	config Config
	seq    byte
}

// New creates a Client for the given stream
func New(rw io.ReadWriter, opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{
		rw:     rw,
		dec:    transport.NewDecoder(rw),
		config: cfg,
	}
}

// nextSeq returns a non-zero rolling sequence byte for command packets
func (c *Client) nextSeq() byte {
	c.seq++
	if c.seq == 0 {
		c.seq = 1
	}
	return c.seq
}

// Ping checks that the bootloader answers
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.command(ctx, "PING", []byte{c.nextSeq(), dfu.TypePing})
	return err
}

// Status is the device's answer to GET_STATUS
type Status struct {
	State         byte
	BytesReceived uint32
	TotalSize     uint32
}

// Status queries the bootloader's state. The device acknowledges first and
// follows with a status frame.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	if _, err := c.command(ctx, "GET_STATUS", []byte{c.nextSeq(), dfu.TypeGetStatus}); err != nil {
		return nil, err
	}
	resp, err := c.readResponse(ctx)
	if err != nil {
		return nil, fmt.Errorf("read status frame: %w", err)
	}
	if resp.Code != transport.RespStatus {
		return nil, fmt.Errorf("client: expected status frame, got 0x%02X", resp.Code)
	}
	return &Status{
		State:         resp.State,
		BytesReceived: resp.BytesReceived,
		TotalSize:     resp.TotalSize,
	}, nil
}

// Abort cancels an in-progress transfer
func (c *Client) Abort(ctx context.Context) error {
	_, err := c.command(ctx, "ABORT", []byte{c.nextSeq(), dfu.TypeAbort})
	return err
}

// JumpApp asks the bootloader to verify and launch the installed image
func (c *Client) JumpApp(ctx context.Context) error {
	_, err := c.command(ctx, "JUMP_APP", []byte{c.nextSeq(), dfu.TypeJumpApp})
	return err
}

// Reset forces the bootloader into emergency recovery. The device does not
// acknowledge a reset.
func (c *Client) Reset(ctx context.Context) error {
	return transport.WriteFrame(c.rw, []byte{c.nextSeq(), dfu.TypeEmergencyReset})
}

// Program transfers a complete firmware image:
//  1. START_SESSION declaring size and CRC
//  2. sequenced DATA chunks, retrying flash-busy NACKs on the same sequence
//  3. END_SESSION
//
// The operation can be cancelled via context between packets.
func (c *Client) Program(ctx context.Context, image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("client: image is empty")
	}
	if len(image) > dfu.MaxImageSize {
		return fmt.Errorf("client: image exceeds %d bytes", dfu.MaxImageSize)
	}

	start := time.Now()
	crc := dfu.CRC16(image)
	c.reportProgress(Progress{Phase: "starting", TotalBytes: len(image)})
	c.logDebug("starting session", "bytes", len(image), "crc", fmt.Sprintf("0x%04X", crc))

	startPkt := make([]byte, 8)
	startPkt[0] = c.nextSeq()
	startPkt[1] = dfu.TypeStartSession
	binary.BigEndian.PutUint32(startPkt[2:6], uint32(len(image)))
	binary.BigEndian.PutUint16(startPkt[6:8], crc)
	if _, err := c.command(ctx, "START_SESSION", startPkt); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	chunkSize := c.config.ChunkSize
	if chunkSize <= 0 || chunkSize > dfu.MaxPacketSize-2 {
		chunkSize = dfu.MaxPacketSize - 2
	}

	written := 0
	seq := byte(1)
	for written < len(image) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}

		end := written + chunkSize
		if end > len(image) {
			end = len(image)
		}
		chunk := image[written:end]

		if err := c.sendData(ctx, seq, chunk); err != nil {
			return fmt.Errorf("data seq %d: %w", seq, err)
		}

		written = end
		seq++
		if seq == 0 {
			seq = 1
		}

		c.reportProgress(Progress{
			Phase:        "programming",
			BytesWritten: written,
			TotalBytes:   len(image),
			Percentage:   float64(written) / float64(len(image)) * 95,
			ElapsedTime:  time.Since(start),
		})
	}

	c.reportProgress(Progress{
		Phase:        "finishing",
		BytesWritten: written,
		TotalBytes:   len(image),
		Percentage:   97,
		ElapsedTime:  time.Since(start),
	})
	if _, err := c.command(ctx, "END_SESSION", []byte{c.nextSeq(), dfu.TypeEndSession}); err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	c.reportProgress(Progress{
		Phase:        "complete",
		BytesWritten: written,
		TotalBytes:   len(image),
		Percentage:   100,
		ElapsedTime:  time.Since(start),
	})
	c.logInfo("programming complete", "bytes", written, "elapsed", time.Since(start).String())
	return nil
}

// sendData transmits one DATA chunk, retrying while the device reports its
// flash busy. The same sequence number is reused on retry.
func (c *Client) sendData(ctx context.Context, seq byte, chunk []byte) error {
	pkt := make([]byte, 2+len(chunk))
	pkt[0] = seq
	pkt[1] = dfu.TypeData
	copy(pkt[2:], chunk)

	for attempt := 0; ; attempt++ {
		_, err := c.command(ctx, "DATA", pkt)
		if err == nil {
			return nil
		}

		var nack *NackError
		if errors.As(err, &nack) && nack.Code == dfu.NackFlashBusy && attempt < c.config.BusyRetries {
			c.logDebug("flash busy, retrying", "seq", seq, "attempt", attempt+1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.BusyRetryDelay):
			}
			continue
		}
		return err
	}
}

// command writes one packet frame and waits for its acknowledgement
func (c *Client) command(ctx context.Context, op string, pkt []byte) (transport.Response, error) {
	if err := transport.WriteFrame(c.rw, pkt); err != nil {
		return transport.Response{}, fmt.Errorf("write %s: %w", op, err)
	}

	resp, err := c.readResponse(ctx)
	if err != nil {
		return transport.Response{}, fmt.Errorf("read %s reply: %w", op, err)
	}

	switch resp.Code {
	case transport.RespAck:
		return resp, nil
	case transport.RespNack:
		return resp, &NackError{Op: op, Code: resp.NackCode}
	default:
		return resp, fmt.Errorf("client: unexpected reply 0x%02X to %s", resp.Code, op)
	}
}

func (c *Client) readResponse(ctx context.Context) (transport.Response, error) {
	if err := ctx.Err(); err != nil {
		return transport.Response{}, err
	}

	if ds, ok := c.rw.(deadlineSetter); ok && c.config.ReadTimeout > 0 {
		deadline := time.Now().Add(c.config.ReadTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = ds.SetReadDeadline(deadline)
	}

	payload, err := c.dec.Next()
	if err != nil {
		return transport.Response{}, err
	}
	return transport.ParseResponse(payload)
}

func (c *Client) reportProgress(p Progress) {
	if c.config.ProgressCallback != nil {
		c.config.ProgressCallback(p)
	}
}

func (c *Client) logDebug(msg string, args ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Debugf(msg+formatKV(args), args...)
	}
}

func (c *Client) logInfo(msg string, args ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Printf(msg+formatKV(args), args...)
	}
}

func formatKV(args []interface{}) string {
	s := ""
	for i := 0; i+1 < len(args); i += 2 {
		s += " %v=%v"
	}
	return s
}

