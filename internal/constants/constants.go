package constants

// Packet geometry
const (
	// MaxPacketSize is the largest wire packet the core accepts
	MaxPacketSize = 256

	// MinPacketSize is sequence byte plus type byte
	MinPacketSize = 2

	// QueueDepth is the number of slots in the receive ring
	QueueDepth = 16

	// StartSessionPayloadSize is u32 total size + u16 expected CRC
	StartSessionPayloadSize = 6

	// DataPayloadOffset is where DATA payload begins within a packet
	DataPayloadOffset = 2
)

// Packet type codes
const (
	TypeStartSession   = 0x01
	TypeData           = 0x02
	TypeEndSession     = 0x03
	TypeAbort          = 0x04
	TypePing           = 0x05
	TypeGetStatus      = 0x06
	TypeJumpApp        = 0x07
	TypeEmergencyReset = 0x08
	TypeGetVersion     = 0x09
)

// NACK error codes sent to the peer
const (
	NackInvalidPacket      = 0x01 // packet not valid in current state
	NackSequenceError      = 0x02 // DATA sequence mismatch
	NackFlashBusy          = 0x03 // flash write already in flight
	NackInvalidType        = 0x04 // type not valid in DFU_ACTIVE
	NackInvalidSessionSize = 0x05 // declared size out of range
	NackIncompleteTransfer = 0x08 // END_SESSION before all bytes arrived
	NackEmergencyOnly      = 0x10 // only emergency commands accepted
	NackInvalidState       = 0x11 // no session traffic in this state
	NackBootloaderForced   = 0x12 // force-bootloader mode latched
	NackUnknown            = 0xFF // dispatch fell through
)

// Flash layout
const (
	// ApplicationStart is the flash byte address of the installed application
	ApplicationStart = 0x08008000

	// MaxImageSize is the largest image a session may declare (1 MiB)
	MaxImageSize = 1 << 20
)

// Timeouts in microseconds, measured against the injected clock.
//
// The supervisor never sleeps; a deadline fires on the first ProcessCycle
// after it elapses:
//   - a peer that goes quiet mid-session gets 30s before the session is torn down
//   - verification waits for the last flash write to land and gets 5s before
//     it is declared wedged
//   - ERROR self-heals to IDLE so a transient fault never bricks the device
//   - EMERGENCY_RECOVERY quarantines traffic long enough for a misbehaving
//     peer to settle before counters are cleared
const (
	DefaultSessionTimeout    = 30_000_000
	DefaultValidationTimeout = 5_000_000
	ErrorRecoveryTimeout     = 5_000_000
	EmergencyRecoveryTimeout = 10_000_000
)

// Escalation thresholds
const (
	// MaxSequenceErrors is the error count above which the supervisor
	// abandons the session and enters emergency recovery
	MaxSequenceErrors = 5

	// MaxDroppedPackets is the cumulative drop count above which the
	// next cycle enters emergency recovery
	MaxDroppedPackets = 10
)
