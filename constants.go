package dfu

import "github.com/ehrlich-b/go-dfu/internal/constants"

// Re-export constants for public API
const (
	MaxPacketSize = constants.MaxPacketSize
	MinPacketSize = constants.MinPacketSize
	QueueDepth    = constants.QueueDepth

	ApplicationStart = constants.ApplicationStart
	MaxImageSize     = constants.MaxImageSize

	DefaultSessionTimeout    = constants.DefaultSessionTimeout
	DefaultValidationTimeout = constants.DefaultValidationTimeout
)

// Packet type codes
const (
	TypeStartSession   = constants.TypeStartSession
	TypeData           = constants.TypeData
	TypeEndSession     = constants.TypeEndSession
	TypeAbort          = constants.TypeAbort
	TypePing           = constants.TypePing
	TypeGetStatus      = constants.TypeGetStatus
	TypeJumpApp        = constants.TypeJumpApp
	TypeEmergencyReset = constants.TypeEmergencyReset
	TypeGetVersion     = constants.TypeGetVersion
)

// NACK codes
const (
	NackInvalidPacket      = constants.NackInvalidPacket
	NackSequenceError      = constants.NackSequenceError
	NackFlashBusy          = constants.NackFlashBusy
	NackInvalidType        = constants.NackInvalidType
	NackInvalidSessionSize = constants.NackInvalidSessionSize
	NackIncompleteTransfer = constants.NackIncompleteTransfer
	NackEmergencyOnly      = constants.NackEmergencyOnly
	NackInvalidState       = constants.NackInvalidState
	NackBootloaderForced   = constants.NackBootloaderForced
	NackUnknown            = constants.NackUnknown
)
