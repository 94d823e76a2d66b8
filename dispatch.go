package dfu

import "github.com/ehrlich-b/go-dfu/internal/constants"

// Reply is the acknowledgement kind of a dispatch outcome
type Reply int

const (
	ReplyNone Reply = iota
	ReplyAck
	ReplyNack
)

// Action is the outcome of dispatching one packet: which reply to send,
// whether to emit an extended status frame, and which state to enter.
// Keeping it a value lets the dispatch logic be tested without any I/O.
type Action struct {
	Reply    Reply
	NackCode byte
	Status   bool
	Next     State
}

func actNone() Action {
	return Action{Next: StateInvalid}
}

func actAck() Action {
	return Action{Reply: ReplyAck, Next: StateInvalid}
}

func actNack(code byte) Action {
	return Action{Reply: ReplyNack, NackCode: code, Next: StateInvalid}
}

func actAckTo(next State) Action {
	return Action{Reply: ReplyAck, Next: next}
}

func actNackTo(code byte, next State) Action {
	return Action{Reply: ReplyNack, NackCode: code, Next: next}
}

// dispatch routes one packet according to the current state and returns the
// outcome. PING and EMERGENCY_RESET are honoured everywhere; GET_STATUS
// everywhere except emergency recovery; everything else is per-state.
func (c *Core) dispatch(p *Packet) Action {
	t := p.Type()

	switch t {
	case constants.TypePing:
		return actAck()
	case constants.TypeEmergencyReset:
		return Action{Next: StateEmergencyRecovery}
	}

	if c.state == StateEmergencyRecovery {
		return actNack(constants.NackEmergencyOnly)
	}

	if t == constants.TypeGetStatus {
		return Action{Reply: ReplyAck, Status: true, Next: StateInvalid}
	}

	switch c.state {
	case StateIdle:
		return c.dispatchIdle(p)
	case StateDFUActive:
		return c.dispatchActive(p)
	case StateDFUVerify, StateRunningApp, StateError:
		return actNack(constants.NackInvalidState)
	default:
		// Defensive: the table above covers every reachable state
		return actNack(constants.NackUnknown)
	}
}

func (c *Core) dispatchIdle(p *Packet) Action {
	switch p.Type() {
	case constants.TypeStartSession:
		return c.handleStartSession(p)
	case constants.TypeJumpApp:
		if c.forceBootloader {
			return actNack(constants.NackBootloaderForced)
		}
		return actAckTo(StateDFUVerify)
	default:
		return actNack(constants.NackInvalidPacket)
	}
}

func (c *Core) dispatchActive(p *Packet) Action {
	switch p.Type() {
	case constants.TypeData:
		return c.handleData(p)
	case constants.TypeEndSession:
		return c.handleEndSession()
	case constants.TypeAbort:
		return actAckTo(StateIdle)
	default:
		return actNack(constants.NackInvalidType)
	}
}
