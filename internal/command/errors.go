package command

import (
	"errors"
	"fmt"

	"github.com/monitor-car/mcc/internal/motor"
)

var (
	// ErrMissingType indicates an envelope without a "type" field.
	ErrMissingType = errors.New("MISSING_TYPE")

	// ErrUnknownOperation indicates a "type" with no registered handler.
	ErrUnknownOperation = errors.New("UNKNOWN_OPERATION")

	// ErrUnknownChannel indicates a referenced channel with no live handle.
	ErrUnknownChannel = errors.New("UNKNOWN_CHANNEL")

	// ErrMalformedEnvelope indicates input that does not decode to an object.
	ErrMalformedEnvelope = errors.New("MALFORMED_ENVELOPE")

	// ErrInvalidParameter indicates a parameter of the wrong type or value.
	ErrInvalidParameter = errors.New("INVALID_PARAMETER")
)

// UnknownChannelError names the first unclaimed channel of a command.
type UnknownChannelError struct {
	Port string
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("channel %s not claimed", e.Port)
}

func (e *UnknownChannelError) Unwrap() []error {
	return []error{ErrUnknownChannel, motor.ErrNotClaimed}
}

// channelError converts a registry lookup failure into UnknownChannelError.
func channelError(err error) error {
	var nc *motor.NotClaimedError
	if errors.As(err, &nc) {
		return &UnknownChannelError{Port: nc.Port}
	}
	return err
}

func invalidParam(key string, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidParameter, key, fmt.Sprintf(format, args...))
}
