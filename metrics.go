package dfu

import "sync/atomic"

// Metrics tracks operational statistics for one bootloader core. All fields
// are atomics: PacketsSubmitted, PacketsDropped and MaxQueueDepth are written
// from the producer side, everything else from the supervisor.
type Metrics struct {
	// Packet accounting. The conservation law
	// processed + dropped + queued == submitted holds until emergency
	// recovery clears the drop counter.
	PacketsSubmitted atomic.Uint64 // Every ReceivePacket call
	PacketsProcessed atomic.Uint64 // Dequeued and dispatched
	PacketsDropped   atomic.Uint64 // Rejected at enqueue

	// Protocol error counters
	ErrorCount        atomic.Uint64 // Sequence errors plus ERROR entries
	RecoveryAttempts  atomic.Uint64 // EMERGENCY_RECOVERY entries
	AppLaunchAttempts atomic.Uint64 // RUNNING_APP entries

	// Flash accounting
	FlashWrites atomic.Uint64 // Accepted write starts
	FlashBytes  atomic.Uint64 // Bytes handed to the flash driver

	// Queue statistics
	MaxQueueDepth atomic.Uint32 // Highest observed depth
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordQueueDepth records an observed queue depth
func (m *Metrics) RecordQueueDepth(depth uint32) {
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			return
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			return
		}
	}
}

// Reset resets all counters
func (m *Metrics) Reset() {
	m.PacketsSubmitted.Store(0)
	m.PacketsProcessed.Store(0)
	m.PacketsDropped.Store(0)
	m.ErrorCount.Store(0)
	m.RecoveryAttempts.Store(0)
	m.AppLaunchAttempts.Store(0)
	m.FlashWrites.Store(0)
	m.FlashBytes.Store(0)
	m.MaxQueueDepth.Store(0)
}

// StatsSnapshot is a point-in-time copy of the statistics surface
type StatsSnapshot struct {
	PacketsSubmitted uint64
	PacketsProcessed uint64
	PacketsDropped   uint64
	QueueDepth       uint32
	MaxQueueDepth    uint32

	ErrorCount        uint64
	RecoveryAttempts  uint64
	AppLaunchAttempts uint64

	FlashWrites uint64
	FlashBytes  uint64
}

// Snapshot copies the counters; the caller supplies the live queue depth
func (m *Metrics) Snapshot(queueDepth uint32) StatsSnapshot {
	return StatsSnapshot{
		PacketsSubmitted:  m.PacketsSubmitted.Load(),
		PacketsProcessed:  m.PacketsProcessed.Load(),
		PacketsDropped:    m.PacketsDropped.Load(),
		QueueDepth:        queueDepth,
		MaxQueueDepth:     m.MaxQueueDepth.Load(),
		ErrorCount:        m.ErrorCount.Load(),
		RecoveryAttempts:  m.RecoveryAttempts.Load(),
		AppLaunchAttempts: m.AppLaunchAttempts.Load(),
		FlashWrites:       m.FlashWrites.Load(),
		FlashBytes:        m.FlashBytes.Load(),
	}
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObservePacket(byte, bool)       {}
func (NoOpObserver) ObserveDrop()                   {}
func (NoOpObserver) ObserveTransition(int, int)     {}
func (NoOpObserver) ObserveQueueDepth(uint32)       {}
func (NoOpObserver) ObserveFlashWrite(uint32, bool) {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObservePacket(byte, bool) {}

func (o *MetricsObserver) ObserveDrop() {}

func (o *MetricsObserver) ObserveTransition(int, int) {}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

func (o *MetricsObserver) ObserveFlashWrite(uint32, bool) {}

// Compile-time interface checks
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
