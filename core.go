// Package dfu implements the core of a device-firmware-update bootloader: a
// non-blocking, packet-driven supervisor that accepts firmware images over a
// framed byte protocol, writes them to flash asynchronously, verifies the
// result, and hands off to the installed application.
package dfu

import (
	"sync/atomic"

	"github.com/ehrlich-b/go-dfu/internal/constants"
)

// Config carries the collaborators and tunables for one Core.
// Flash, Clock and Wire are required; the rest are optional.
type Config struct {
	// Flash is the asynchronous flash peripheral
	Flash Flash

	// Clock is the monotonic microsecond tick source
	Clock Clock

	// Wire transmits ACK/NACK frames to the peer. A StatusWire additionally
	// receives status frames for GET_STATUS.
	Wire Wire

	// Launcher is invoked on RUNNING_APP entry (nil: simulated launch)
	Launcher Launcher

	// Logger for debug/info messages (nil: no logging)
	Logger Logger

	// Observer for metrics collection (nil: records to the built-in Metrics)
	Observer Observer

	// SessionTimeout is the session inactivity deadline in microseconds
	// (0: 30s default)
	SessionTimeout uint64

	// ValidationTimeout is the verification deadline in microseconds
	// (0: 5s default)
	ValidationTimeout uint64
}

// session is the per-transfer bookkeeping, populated on START_SESSION and
// cleared on IDLE entry.
type session struct {
	totalSize     uint32
	expectedCRC   uint16
	expectedSeq   byte
	bytesReceived uint32
	active        bool
}

// SessionInfo is a read-only view of the current session
type SessionInfo struct {
	TotalSize     uint32
	ExpectedCRC   uint16
	ExpectedSeq   byte
	BytesReceived uint32
	Active        bool
}

// Core is one bootloader supervisor instance. All mutation happens on the
// supervisor's thread of control except ReceivePacket, which may run as the
// single producer from a transport goroutine or interrupt-style callback.
type Core struct {
	flash    Flash
	clock    Clock
	wire     Wire
	launcher Launcher
	logger   Logger
	observer Observer

	queue PacketQueue

	state          State
	previousState  State
	stateEntryTime uint64
	lastActivity   atomic.Uint64

	sessionTimeout    uint64
	validationTimeout uint64
	forceBootloader   bool

	session  session
	imageCRC CRC16Digest

	validation ValidationRecord

	flashIdle        bool
	emergencyPending atomic.Bool

	metrics *Metrics
}

// New creates a Core and initialises it into IDLE
func New(cfg Config) (*Core, error) {
	if cfg.Flash == nil || cfg.Clock == nil || cfg.Wire == nil {
		return nil, NewError("NEW", ErrCodeInvalidParameters, "flash, clock and wire are required")
	}

	metrics := NewMetrics()
	observer := cfg.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	c := &Core{
		flash:    cfg.Flash,
		clock:    cfg.Clock,
		wire:     cfg.Wire,
		launcher: cfg.Launcher,
		logger:   cfg.Logger,
		observer: observer,
		metrics:  metrics,
	}

	c.sessionTimeout = cfg.SessionTimeout
	c.validationTimeout = cfg.ValidationTimeout

	c.Init()
	return c, nil
}

// Init zero-clears all supervisor state, restores default timeouts, clears
// force-bootloader mode and enters IDLE. Calling it twice yields the same
// state as calling it once.
func (c *Core) Init() {
	c.queue.Reset()
	c.metrics.Reset()

	c.session = session{}
	c.imageCRC.Reset()
	c.validation = ValidationRecord{}
	c.forceBootloader = false
	c.flashIdle = true
	c.emergencyPending.Store(false)

	if c.sessionTimeout == 0 {
		c.sessionTimeout = constants.DefaultSessionTimeout
	}
	if c.validationTimeout == 0 {
		c.validationTimeout = constants.DefaultValidationTimeout
	}

	now := c.clock.Now()
	c.state = StateIdle
	c.previousState = StateIdle
	c.stateEntryTime = now
	c.lastActivity.Store(now)
}

// ReceivePacket submits one whole framed packet to the receive queue. It is
// the producer side of the ring and may be called concurrently with
// ProcessCycle. It returns false when the packet was dropped; the peer
// observes the loss and retransmits at the protocol level.
func (c *Core) ReceivePacket(p []byte) bool {
	c.metrics.PacketsSubmitted.Add(1)

	if len(p) < constants.MinPacketSize || len(p) > constants.MaxPacketSize {
		return c.dropPacket()
	}
	if !c.queue.Enqueue(p) {
		return c.dropPacket()
	}

	c.lastActivity.Store(c.clock.Now())
	c.observer.ObserveQueueDepth(uint32(c.queue.Len()))
	return true
}

// dropPacket counts a drop and arms the emergency escalation once the
// cumulative count passes the threshold. The transition itself happens on
// the supervisor's next cycle; the producer context never mutates state.
func (c *Core) dropPacket() bool {
	dropped := c.metrics.PacketsDropped.Add(1)
	c.observer.ObserveDrop()
	if dropped > constants.MaxDroppedPackets {
		c.emergencyPending.Store(true)
	}
	return false
}

// ProcessCycle drives one non-blocking supervisor cycle: timeout checks,
// flash completion poll, state background work, then a full queue drain.
// It returns promptly so the transport may continue to enqueue.
func (c *Core) ProcessCycle() {
	now := c.clock.Now()

	if c.emergencyPending.CompareAndSwap(true, false) && c.state != StateEmergencyRecovery {
		c.debugf("excessive packet loss, entering emergency recovery")
		c.enterState(StateEmergencyRecovery)
	}

	c.checkTimeouts(now)

	c.flashIdle = c.flash.OperationComplete()

	switch c.state {
	case StateDFUVerify:
		c.runValidation()
	case StateRunningApp:
		c.completeLaunch()
	case StateEmergencyRecovery:
		c.checkRecoveryHeal(now)
	}

	c.drainQueue()
}

func (c *Core) checkTimeouts(now uint64) {
	if last := c.lastActivity.Load(); c.session.active && now > last && now-last > c.sessionTimeout {
		c.debugf("session timed out after %d us of inactivity", now-last)
		c.transitionTo(StateError)
		return
	}

	switch c.state {
	case StateDFUVerify:
		if now-c.stateEntryTime > c.validationTimeout {
			c.debugf("verification timed out")
			c.transitionTo(StateError)
		}
	case StateError:
		if now-c.stateEntryTime > constants.ErrorRecoveryTimeout {
			c.transitionTo(StateIdle)
		}
	}
}

func (c *Core) checkRecoveryHeal(now uint64) {
	if now-c.stateEntryTime > constants.EmergencyRecoveryTimeout {
		// force-bootloader mode stays latched; only Init clears it
		c.metrics.PacketsDropped.Store(0)
		c.metrics.ErrorCount.Store(0)
		c.transitionTo(StateIdle)
	}
}

func (c *Core) drainQueue() {
	var pkt Packet
	for c.queue.Dequeue(&pkt) {
		c.metrics.PacketsProcessed.Add(1)
		action := c.dispatch(&pkt)
		c.observer.ObservePacket(pkt.Type(), action.Reply != ReplyNack)
		c.applyAction(action)
	}
}

func (c *Core) applyAction(a Action) {
	switch a.Reply {
	case ReplyAck:
		c.wire.SendAck()
	case ReplyNack:
		c.wire.SendNack(a.NackCode)
	}

	if a.Status {
		if sw, ok := c.wire.(StatusWire); ok {
			sw.SendStatus(byte(c.state), c.session.bytesReceived, c.session.totalSize)
		}
	}

	if a.Next != StateInvalid {
		c.transitionTo(a.Next)
	}
}

// transitionTo enters target if the admissible-transition table allows it;
// an inadmissible request is itself an error and lands in ERROR instead.
// EMERGENCY_RECOVERY is always reachable (re-entry restarts the quarantine).
func (c *Core) transitionTo(target State) {
	if target != StateEmergencyRecovery && !transitionAllowed(c.state, target) {
		c.debugf("inadmissible transition %s -> %s", c.state, target)
		c.enterState(StateError)
		return
	}
	c.enterState(target)
}

// enterState records the transition, stamps entry time and runs the entry
// action for target.
func (c *Core) enterState(target State) {
	from := c.state
	c.previousState = from
	c.state = target
	c.stateEntryTime = c.clock.Now()
	c.observer.ObserveTransition(int(from), int(target))
	c.debugf("state %s -> %s", from, target)

	switch target {
	case StateIdle:
		c.session = session{}
		c.imageCRC.Reset()
	case StateDFUActive:
		// entry time stamp only
	case StateDFUVerify:
		c.validation = ValidationRecord{}
	case StateRunningApp:
		c.session.active = false
		c.metrics.AppLaunchAttempts.Add(1)
		c.launchApp()
	case StateEmergencyRecovery:
		c.session.active = false
		c.metrics.RecoveryAttempts.Add(1)
		c.forceBootloader = true
	case StateError:
		c.session.active = false
		c.metrics.ErrorCount.Add(1)
	}
}

// launchApp invokes the launcher capability. On real hardware Launch never
// returns; the hosted default logs and lets completeLaunch fall back to IDLE
// on the next cycle.
func (c *Core) launchApp() {
	if c.launcher == nil {
		c.infof("launching application at 0x%08X (simulated)", uint32(constants.ApplicationStart))
		return
	}
	if err := c.launcher.Launch(); err != nil {
		c.infof("application launch failed: %v", err)
		c.transitionTo(StateError)
	}
}

// completeLaunch is the RUNNING_APP background step: if the launcher did not
// take control, return to IDLE so the bootloader keeps serving.
func (c *Core) completeLaunch() {
	c.transitionTo(StateIdle)
}

// handleStartSession validates the 6-byte size+CRC payload and opens the
// transfer. Accepted only in IDLE.
func (c *Core) handleStartSession(p *Packet) Action {
	if c.forceBootloader {
		return actNack(constants.NackBootloaderForced)
	}

	req, ok := parseSessionRequest(p.Payload())
	if !ok {
		return actNack(constants.NackInvalidPacket)
	}
	if req.TotalSize == 0 || req.TotalSize > constants.MaxImageSize {
		return actNack(constants.NackInvalidSessionSize)
	}

	c.session = session{
		totalSize:   req.TotalSize,
		expectedCRC: req.ExpectedCRC,
		expectedSeq: 1,
		active:      true,
	}
	c.imageCRC.Reset()
	c.infof("session opened: %d bytes, crc 0x%04X", req.TotalSize, req.ExpectedCRC)
	return actAckTo(StateDFUActive)
}

// handleData writes one in-sequence DATA payload to flash. A rejected packet
// (sequence mismatch, flash busy, overflow) never advances session state;
// the peer retransmits the same sequence.
func (c *Core) handleData(p *Packet) Action {
	if p.Sequence() != c.session.expectedSeq {
		errs := c.metrics.ErrorCount.Add(1)
		c.debugf("sequence mismatch: got %d want %d", p.Sequence(), c.session.expectedSeq)
		if errs > constants.MaxSequenceErrors {
			return actNackTo(constants.NackSequenceError, StateEmergencyRecovery)
		}
		return actNack(constants.NackSequenceError)
	}

	payload := p.Payload()
	if c.session.bytesReceived+uint32(len(payload)) > c.session.totalSize {
		return actNack(constants.NackInvalidSessionSize)
	}

	if len(payload) > 0 {
		addr := uint32(constants.ApplicationStart) + c.session.bytesReceived
		if !c.flash.StartWrite(addr, payload) {
			c.observer.ObserveFlashWrite(uint32(len(payload)), false)
			return actNack(constants.NackFlashBusy)
		}
		c.observer.ObserveFlashWrite(uint32(len(payload)), true)
		c.metrics.FlashWrites.Add(1)
		c.metrics.FlashBytes.Add(uint64(len(payload)))
		c.imageCRC.Write(payload)
		c.session.bytesReceived += uint32(len(payload))
	}

	// The sequence byte wraps around zero; zero stays reserved so the
	// active-session invariant (expectedSeq >= 1) holds for large images.
	c.session.expectedSeq++
	if c.session.expectedSeq == 0 {
		c.session.expectedSeq = 1
	}
	return actAck()
}

// handleEndSession closes the transfer: complete sessions advance to verify,
// short ones are a protocol failure.
func (c *Core) handleEndSession() Action {
	if c.session.bytesReceived != c.session.totalSize {
		c.infof("incomplete transfer: %d of %d bytes", c.session.bytesReceived, c.session.totalSize)
		return actNackTo(constants.NackIncompleteTransfer, StateError)
	}
	return actAckTo(StateDFUVerify)
}

// runValidation is the DFU_VERIFY background step. It waits for the last
// flash write to land, then compares the write-time fingerprint against the
// CRC the session declared. The validation timeout covers a wedged flash.
func (c *Core) runValidation() {
	if !c.flashIdle {
		return
	}

	rec := ValidationRecord{
		Size:        c.session.bytesReceived,
		ExpectedCRC: c.session.expectedCRC,
	}
	if rec.Size == 0 {
		// Launch request without a transfer: nothing to fingerprint
		rec.CalculatedCRC = rec.ExpectedCRC
		rec.Valid = true
	} else {
		rec.CalculatedCRC = c.imageCRC.Sum16()
		rec.Valid = rec.CalculatedCRC == rec.ExpectedCRC
	}
	c.validation = rec

	if rec.Valid {
		c.infof("image verified: %d bytes, crc 0x%04X", rec.Size, rec.CalculatedCRC)
		c.transitionTo(StateRunningApp)
		return
	}
	c.infof("image verification failed: crc 0x%04X want 0x%04X", rec.CalculatedCRC, rec.ExpectedCRC)
	c.transitionTo(StateError)
}

// State returns the current supervisor state
func (c *Core) State() State {
	return c.state
}

// PreviousState returns the state before the most recent transition
func (c *Core) PreviousState() State {
	return c.previousState
}

// ForcedBootloader reports whether force-bootloader mode is latched
func (c *Core) ForcedBootloader() bool {
	return c.forceBootloader
}

// Session returns a read-only view of the current session
func (c *Core) Session() SessionInfo {
	return SessionInfo{
		TotalSize:     c.session.totalSize,
		ExpectedCRC:   c.session.expectedCRC,
		ExpectedSeq:   c.session.expectedSeq,
		BytesReceived: c.session.bytesReceived,
		Active:        c.session.active,
	}
}

// Validation returns the record computed by the most recent verify pass
func (c *Core) Validation() ValidationRecord {
	return c.validation
}

// QueueLen returns the number of packets currently buffered
func (c *Core) QueueLen() int {
	return c.queue.Len()
}

// Metrics returns the core's metrics instance
func (c *Core) Metrics() *Metrics {
	return c.metrics
}

// Stats returns a point-in-time snapshot of the core's counters
func (c *Core) Stats() StatsSnapshot {
	return c.metrics.Snapshot(uint32(c.queue.Len()))
}

// LogStats writes the statistics surface through the configured logger
func (c *Core) LogStats() {
	if c.logger == nil {
		return
	}
	s := c.Stats()
	c.logger.Printf("state=%s processed=%d dropped=%d queued=%d errors=%d recoveries=%d launches=%d flash_writes=%d flash_bytes=%d",
		c.state, s.PacketsProcessed, s.PacketsDropped, s.QueueDepth,
		s.ErrorCount, s.RecoveryAttempts, s.AppLaunchAttempts,
		s.FlashWrites, s.FlashBytes)
}

func (c *Core) debugf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debugf(format, args...)
	}
}

func (c *Core) infof(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
