// Package telemetry exports the core's observability surface over HTTP for
// hosted deployments.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ehrlich-b/go-dfu"
)

// PromObserver implements the core's Observer capability with Prometheus
// collectors. Register it on a registry and pass it in the core's Config.
type PromObserver struct {
	packetsTotal     *prometheus.CounterVec
	dropsTotal       prometheus.Counter
	transitionsTotal *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	flashWritesTotal *prometheus.CounterVec
	flashBytesTotal  prometheus.Counter
}

// NewPromObserver creates the collectors and registers them on reg
func NewPromObserver(reg prometheus.Registerer) *PromObserver {
	o := &PromObserver{
		packetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dfu",
			Name:      "packets_total",
			Help:      "Packets dispatched by the supervisor, by type and outcome.",
		}, []string{"type", "outcome"}),
		dropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dfu",
			Name:      "packets_dropped_total",
			Help:      "Packets rejected at enqueue.",
		}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dfu",
			Name:      "state_transitions_total",
			Help:      "Supervisor state transitions.",
		}, []string{"from", "to"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dfu",
			Name:      "queue_depth",
			Help:      "Packets buffered in the receive ring.",
		}),
		flashWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dfu",
			Name:      "flash_writes_total",
			Help:      "Flash write attempts, by outcome.",
		}, []string{"outcome"}),
		flashBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dfu",
			Name:      "flash_bytes_total",
			Help:      "Bytes handed to the flash driver.",
		}),
	}

	reg.MustRegister(
		o.packetsTotal,
		o.dropsTotal,
		o.transitionsTotal,
		o.queueDepth,
		o.flashWritesTotal,
		o.flashBytesTotal,
	)
	return o
}

func (o *PromObserver) ObservePacket(packetType byte, accepted bool) {
	o.packetsTotal.WithLabelValues(typeLabel(packetType), outcome(accepted)).Inc()
}

func (o *PromObserver) ObserveDrop() {
	o.dropsTotal.Inc()
}

func (o *PromObserver) ObserveTransition(from, to int) {
	o.transitionsTotal.WithLabelValues(dfu.State(from).String(), dfu.State(to).String()).Inc()
}

func (o *PromObserver) ObserveQueueDepth(depth uint32) {
	o.queueDepth.Set(float64(depth))
}

func (o *PromObserver) ObserveFlashWrite(bytes uint32, accepted bool) {
	o.flashWritesTotal.WithLabelValues(outcome(accepted)).Inc()
	if accepted {
		o.flashBytesTotal.Add(float64(bytes))
	}
}

func outcome(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "rejected"
}

func typeLabel(t byte) string {
	switch t {
	case dfu.TypeStartSession:
		return "start_session"
	case dfu.TypeData:
		return "data"
	case dfu.TypeEndSession:
		return "end_session"
	case dfu.TypeAbort:
		return "abort"
	case dfu.TypePing:
		return "ping"
	case dfu.TypeGetStatus:
		return "get_status"
	case dfu.TypeJumpApp:
		return "jump_app"
	case dfu.TypeEmergencyReset:
		return "emergency_reset"
	case dfu.TypeGetVersion:
		return "get_version"
	default:
		return fmt.Sprintf("0x%02x", t)
	}
}

var _ dfu.Observer = (*PromObserver)(nil)
