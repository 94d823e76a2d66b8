package transport

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the rate bootloader peers commonly run at
const DefaultBaudRate = 115200

// OpenSerial opens a serial device in 8N1 mode for framed transport use
func OpenSerial(device string, baud int) (io.ReadWriteCloser, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return port, nil
}
