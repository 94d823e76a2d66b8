package dfu

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/go-dfu/internal/constants"
)

// Error represents a structured dfu error with protocol context
type Error struct {
	Op    string    // Operation that failed (e.g., "START_SESSION", "FLASH_WRITE")
	State State     // Supervisor state at the time (StateInvalid if not applicable)
	Code  ErrorCode // High-level error category
	Nack  byte      // Protocol NACK code reported to the peer (0 if none)
	Msg   string    // Human-readable message
	Inner error     // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	ctx := ""
	if e.Op != "" {
		ctx = fmt.Sprintf(" (op=%s)", e.Op)
	} else if e.State != StateInvalid {
		ctx = fmt.Sprintf(" (state=%s)", e.State)
	}

	return fmt.Sprintf("dfu: %s%s", msg, ctx)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support by error category
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeProtocol          ErrorCode = "protocol violation"
	ErrCodeSequence          ErrorCode = "sequence error"
	ErrCodeFlashBusy         ErrorCode = "flash busy"
	ErrCodeSessionSize       ErrorCode = "invalid session size"
	ErrCodeIncomplete        ErrorCode = "incomplete transfer"
	ErrCodeIntegrity         ErrorCode = "integrity check failed"
	ErrCodeTimeout           ErrorCode = "timeout"
	ErrCodeQueueFull         ErrorCode = "receive queue full"
	ErrCodeInvalidTransition ErrorCode = "invalid state transition"
	ErrCodeBootloaderForced  ErrorCode = "bootloader mode forced"
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		State: StateInvalid,
		Code:  code,
		Msg:   msg,
	}
}

// NewStateError creates an error carrying the supervisor state it occurred in
func NewStateError(op string, state State, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		State: state,
		Code:  code,
		Msg:   msg,
	}
}

// NewNackError creates an error from a protocol NACK code
func NewNackError(op string, state State, nack byte) *Error {
	code := mapNackToCode(nack)
	return &Error{
		Op:    op,
		State: state,
		Code:  code,
		Nack:  nack,
		Msg:   string(code),
	}
}

// WrapError wraps an existing error with dfu context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if de, ok := inner.(*Error); ok {
		return &Error{
			Op:    op,
			State: de.State,
			Code:  de.Code,
			Nack:  de.Nack,
			Msg:   de.Msg,
			Inner: de.Inner,
		}
	}

	return &Error{
		Op:    op,
		State: StateInvalid,
		Code:  ErrCodeProtocol,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapNackToCode maps protocol NACK codes to error categories
func mapNackToCode(nack byte) ErrorCode {
	switch nack {
	case constants.NackSequenceError:
		return ErrCodeSequence
	case constants.NackFlashBusy:
		return ErrCodeFlashBusy
	case constants.NackInvalidSessionSize:
		return ErrCodeSessionSize
	case constants.NackIncompleteTransfer:
		return ErrCodeIncomplete
	case constants.NackBootloaderForced:
		return ErrCodeBootloaderForced
	default:
		return ErrCodeProtocol
	}
}

// IsCode checks if an error matches a specific error category
func IsCode(err error, code ErrorCode) bool {
	var dfuErr *Error
	if errors.As(err, &dfuErr) {
		return dfuErr.Code == code
	}
	return false
}

// NackOf extracts the protocol NACK code from an error, if any
func NackOf(err error) (byte, bool) {
	var dfuErr *Error
	if errors.As(err, &dfuErr) && dfuErr.Nack != 0 {
		return dfuErr.Nack, true
	}
	return 0, false
}
