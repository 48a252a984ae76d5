// Hardware error normalization.
//
// Hardware layers report failures as free-form messages. They are mapped to
// the container codes through deterministic token tables, never heuristics.
// Unknown tokens map to INTERNAL.
package adapter

import (
	"errors"
	"fmt"
	"strings"
)

// Normalized container errors.
var (
	ErrInvalidRange = errors.New("INVALID_RANGE")
	ErrBusy         = errors.New("BUSY")
	ErrUnavailable  = errors.New("UNAVAILABLE")
	ErrInternal     = errors.New("INTERNAL")
)

// ErrHardwareCallFailed marks every error that crossed the hardware boundary.
var ErrHardwareCallFailed = errors.New("HARDWARE_CALL_FAILED")

// TokenMap defines the error token mapping for one hardware family.
type TokenMap struct {
	Range       []string // Tokens that map to INVALID_RANGE
	Busy        []string // Tokens that map to BUSY
	Unavailable []string // Tokens that map to UNAVAILABLE
}

// HardwareErrorMappings contains the mapping tables per hardware family.
//
// Extending:
//  1. Add a family entry with its token arrays.
//  2. Test each token against its normalized code.
//  3. Families without an entry fall back to "generic".
var HardwareErrorMappings = map[string]TokenMap{
	"buildhat": {
		Range: []string{
			"INVALID_RANGE",
			"SPEED_OUT_OF_RANGE",
			"INVALID_SPEED",
			"INVALID_POSITION",
			"POSITION_OUT_OF_RANGE",
			"INVALID_DEGREES",
			"INVALID_PARAMETER",
		},
		Busy: []string{
			"MOTOR_BUSY",
			"MOTOR_STALLED",
			"OPERATION_IN_PROGRESS",
			"COMMAND_QUEUE_FULL",
		},
		Unavailable: []string{
			"DEVICE_NOT_CONNECTED",
			"NO_DEVICE",
			"PORT_NOT_FOUND",
			"FIRMWARE_LOADING",
			"HAT_NOT_READY",
			"NOT_READY",
		},
	},
	"generic": {
		Range: []string{
			"OUT_OF_RANGE",
			"INVALID_PARAMETER",
			"INVALID_RANGE",
			"BAD_VALUE",
		},
		Busy: []string{
			"BUSY",
			"STALLED",
			"RETRY",
			"TIMEOUT",
		},
		Unavailable: []string{
			"UNAVAILABLE",
			"NOT_CONNECTED",
			"OFFLINE",
			"NOT_READY",
		},
	},
}

// HardwareError wraps a failed hardware call with its normalized code.
// Fallback is set when a fallback strategy was attempted and also failed.
type HardwareError struct {
	Port     string
	Op       string
	Code     error
	Original error
	Fallback error
}

func (e *HardwareError) Error() string {
	msg := fmt.Sprintf("%v: %s on port %s: %v", e.Code, e.Op, e.Port, e.Original)
	if e.Fallback != nil {
		msg += fmt.Sprintf(" (fallback: %v)", e.Fallback)
	}
	return msg
}

// Unwrap exposes ErrHardwareCallFailed, the normalized code and the original error.
func (e *HardwareError) Unwrap() []error {
	return []error{ErrHardwareCallFailed, e.Code, e.Original}
}

// NormalizeHardwareError maps err using the generic table.
func NormalizeHardwareError(port, op string, err error) error {
	return NormalizeHardwareErrorWithFamily(port, op, err, "generic")
}

// NormalizeHardwareErrorWithFamily maps err using a specific family table.
// Errors that are already normalized are returned unchanged.
func NormalizeHardwareErrorWithFamily(port, op string, err error, family string) error {
	if err == nil {
		return nil
	}
	var hwErr *HardwareError
	if errors.As(err, &hwErr) {
		return err
	}
	return &HardwareError{
		Port:     port,
		Op:       op,
		Code:     mapTokenToCode(err.Error(), family),
		Original: err,
	}
}

func mapTokenToCode(msg string, family string) error {
	tokens, ok := HardwareErrorMappings[family]
	if !ok {
		tokens = HardwareErrorMappings["generic"]
	}

	upperMsg := strings.ToUpper(msg)

	for _, token := range tokens.Range {
		if strings.Contains(upperMsg, token) {
			return ErrInvalidRange
		}
	}
	for _, token := range tokens.Busy {
		if strings.Contains(upperMsg, token) {
			return ErrBusy
		}
	}
	for _, token := range tokens.Unavailable {
		if strings.Contains(upperMsg, token) {
			return ErrUnavailable
		}
	}

	return ErrInternal
}
