package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ehrlich-b/go-dfu"
	"github.com/ehrlich-b/go-dfu/internal/interfaces"
)

// DefaultCycleInterval paces the supervisor loop when the caller does not
// choose one. 200us keeps acknowledgement latency well under typical serial
// round trips without spinning a host CPU.
const DefaultCycleInterval = 200 * time.Microsecond

// Serve runs a core against a framed byte stream until ctx is cancelled or
// the stream ends. Decoded frames are fed to the core from a reader
// goroutine (the single producer); the calling goroutine runs the
// supervisor cycle at the given interval. The core's Wire must already
// point at the same stream (see NewWireSender).
func Serve(ctx context.Context, core *dfu.Core, r io.Reader, interval time.Duration, logger interfaces.Logger) error {
	if interval <= 0 {
		interval = DefaultCycleInterval
	}

	readErr := make(chan error, 1)
	go func() {
		dec := NewDecoder(r)
		for {
			payload, err := dec.Next()
			if err != nil {
				readErr <- err
				return
			}
			if !core.ReceivePacket(payload) && logger != nil {
				logger.Debugf("packet dropped at ingress (%d bytes)", len(payload))
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Drain whatever already arrived before shutting down
			core.ProcessCycle()
			return ctx.Err()
		case err := <-readErr:
			core.ProcessCycle()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-ticker.C:
			core.ProcessCycle()
		}
	}
}
