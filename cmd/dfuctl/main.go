// dfuctl is the host-side tool for driving a dfu bootloader: program a
// firmware image, ping the device, query its status, or request an
// application launch, over a serial port or TCP connection.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/go-dfu/client"
	"github.com/ehrlich-b/go-dfu/internal/logging"
	"github.com/ehrlich-b/go-dfu/transport"
)

var (
	flagSerial  string
	flagBaud    int
	flagTCP     string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "dfuctl",
		Short:         "DFU bootloader host tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagSerial, "serial", "", "serial device (e.g. /dev/ttyUSB0)")
	root.PersistentFlags().IntVar(&flagBaud, "baud", transport.DefaultBaudRate, "serial baud rate")
	root.PersistentFlags().StringVar(&flagTCP, "tcp", "", "TCP address (e.g. localhost:9150)")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging")

	root.AddCommand(newFlashCmd())
	root.AddCommand(newPingCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newJumpCmd())
	root.AddCommand(newAbortCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dfuctl: %v\n", err)
		os.Exit(1)
	}
}

// connect opens the configured transport
func connect() (io.ReadWriteCloser, error) {
	switch {
	case flagSerial != "":
		return transport.OpenSerial(flagSerial, flagBaud)
	case flagTCP != "":
		conn, err := net.DialTimeout("tcp", flagTCP, 5*time.Second)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, errors.New("one of --serial or --tcp is required")
	}
}

func newClient() (*client.Client, io.Closer, error) {
	rw, err := connect()
	if err != nil {
		return nil, nil, err
	}

	return client.New(rw, client.WithLogger(newLogger())), rw, nil
}

func newLogger() *logging.Logger {
	logConfig := logging.DefaultConfig()
	if flagVerbose {
		logConfig.Level = logging.LevelDebug
	}
	return logging.New("dfuctl", logConfig)
}

func newFlashCmd() *cobra.Command {
	var timeout time.Duration
	var chunkSize int

	cmd := &cobra.Command{
		Use:   "flash <image>",
		Short: "Program a firmware image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			rw, err := connect()
			if err != nil {
				return err
			}
			defer rw.Close()

			c := client.New(rw,
				client.WithChunkSize(chunkSize),
				client.WithLogger(newLogger()),
				client.WithProgressCallback(func(p client.Progress) {
					fmt.Printf("\r%-12s %3.0f%% (%d/%d bytes)", p.Phase, p.Percentage, p.BytesWritten, p.TotalBytes)
					if p.Phase == "complete" {
						fmt.Printf(" in %s\n", p.ElapsedTime.Round(time.Millisecond))
					}
				}),
			)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return c.Program(ctx, image)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall programming timeout")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 128, "DATA payload bytes per packet")
	return cmd
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the bootloader answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closer, err := newClient()
			if err != nil {
				return err
			}
			defer closer.Close()

			start := time.Now()
			if err := c.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("pong in %s\n", time.Since(start).Round(time.Microsecond))
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query bootloader state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closer, err := newClient()
			if err != nil {
				return err
			}
			defer closer.Close()

			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("state=%d received=%d total=%d\n", st.State, st.BytesReceived, st.TotalSize)
			return nil
		},
	}
}

func newJumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jump",
		Short: "Verify and launch the installed application",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closer, err := newClient()
			if err != nil {
				return err
			}
			defer closer.Close()
			return c.JumpApp(cmd.Context())
		},
	}
}

func newAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abort an in-progress transfer",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closer, err := newClient()
			if err != nil {
				return err
			}
			defer closer.Close()
			return c.Abort(cmd.Context())
		},
	}
}
