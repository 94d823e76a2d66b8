package transport

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/ehrlich-b/go-dfu"
	"github.com/ehrlich-b/go-dfu/internal/interfaces"
)

// WireSender implements the core's StatusWire capability over a framed byte
// stream. The Wire contract has no error returns (acknowledgements are
// fire-and-forget from the supervisor's point of view); transmit failures
// are logged and remembered for the owner to inspect.
type WireSender struct {
	mu     sync.Mutex
	w      io.Writer
	logger interfaces.Logger
	err    error
}

// NewWireSender creates a sender writing frames to w. logger may be nil.
func NewWireSender(w io.Writer, logger interfaces.Logger) *WireSender {
	return &WireSender{w: w, logger: logger}
}

// SendAck implements the Wire capability
func (s *WireSender) SendAck() {
	s.send([]byte{RespAck})
}

// SendNack implements the Wire capability
func (s *WireSender) SendNack(code byte) {
	s.send([]byte{RespNack, code})
}

// SendStatus implements the StatusWire capability
func (s *WireSender) SendStatus(state byte, bytesReceived, totalSize uint32) {
	frame := make([]byte, 10)
	frame[0] = RespStatus
	frame[1] = state
	binary.BigEndian.PutUint32(frame[2:6], bytesReceived)
	binary.BigEndian.PutUint32(frame[6:10], totalSize)
	s.send(frame)
}

func (s *WireSender) send(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := WriteFrame(s.w, payload); err != nil {
		s.err = err
		if s.logger != nil {
			s.logger.Printf("wire transmit failed: %v", err)
		}
	}
}

// Err returns the most recent transmit failure, if any
func (s *WireSender) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

var _ dfu.StatusWire = (*WireSender)(nil)
