// dfud runs a dfu bootloader core against a serial port or TCP listener,
// with a simulated flash backend and an optional telemetry endpoint. It is
// the hosted stand-in for the on-target bootloader, used for protocol
// development and host-tool testing.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ehrlich-b/go-dfu"
	"github.com/ehrlich-b/go-dfu/flash"
	"github.com/ehrlich-b/go-dfu/internal/logging"
	"github.com/ehrlich-b/go-dfu/telemetry"
	"github.com/ehrlich-b/go-dfu/transport"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := &cobra.Command{
		Use:           "dfud",
		Short:         "DFU bootloader daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dfud: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dfud %s (%s)\n", version, commit)
		},
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the bootloader protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), v)
		},
	}

	cmd.Flags().String("serial", "", "serial device to serve on (e.g. /dev/ttyUSB0)")
	cmd.Flags().Int("baud", transport.DefaultBaudRate, "serial baud rate")
	cmd.Flags().String("listen", "", "TCP address to serve on (e.g. :9150)")
	cmd.Flags().String("telemetry", "", "HTTP address for /metrics and /status")
	cmd.Flags().Uint64("flash-latency-us", 2000, "simulated flash write latency")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

// loadConfig layers flags over DFU_* environment variables over a config
// file
func loadConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("DFU")
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	if path, _ := cmd.Root().PersistentFlags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return v, nil
}

func serve(ctx context.Context, v *viper.Viper) error {
	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.ParseLevel(v.GetString("log-level"))
	logger := logging.New("dfud", logConfig)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := dfu.NewSystemClock()
	sim := flash.NewApplicationSim(clock, v.GetUint64("flash-latency-us"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	observer := telemetry.NewPromObserver(reg)

	var liveCore atomic.Pointer[dfu.Core]
	if addr := v.GetString("telemetry"); addr != "" {
		startTelemetry(ctx, addr, reg, liveCore.Load, logger)
	}

	serialDev := v.GetString("serial")
	listen := v.GetString("listen")
	if serialDev == "" && listen == "" {
		return errors.New("one of --serial or --listen is required")
	}

	if serialDev != "" {
		port, err := transport.OpenSerial(serialDev, v.GetInt("baud"))
		if err != nil {
			return err
		}
		defer port.Close()
		logger.Info("serving", "transport", "serial", "device", serialDev)
		return serveStream(ctx, port, clock, sim, observer, &liveCore, logger)
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	defer ln.Close()
	logger.Info("serving", "transport", "tcp", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	// One peer at a time; a new connection gets a freshly initialised core
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		logger.Info("peer connected", "remote", conn.RemoteAddr().String())
		if err := serveStream(ctx, conn, clock, sim, observer, &liveCore, logger); err != nil && ctx.Err() == nil {
			logger.Warn("session ended", "err", err)
		}
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
	}
}

func serveStream(ctx context.Context, rw io.ReadWriter, clock dfu.Clock, sim *flash.Sim, observer dfu.Observer, liveCore *atomic.Pointer[dfu.Core], logger *logging.Logger) error {
	wire := transport.NewWireSender(rw, logger.WithComponent("wire"))

	core, err := dfu.New(dfu.Config{
		Flash:    sim,
		Clock:    clock,
		Wire:     wire,
		Logger:   logger.WithComponent("core"),
		Observer: observer,
	})
	if err != nil {
		return err
	}

	liveCore.Store(core)
	defer core.LogStats()
	return transport.Serve(ctx, core, rw, transport.DefaultCycleInterval, logger)
}

func startTelemetry(ctx context.Context, addr string, reg *prometheus.Registry, provider func() *dfu.Core, logger *logging.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           telemetry.Handler(reg, provider),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("telemetry listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("telemetry server failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
