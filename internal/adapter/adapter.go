// Package adapter defines the per-channel hardware boundary (IMotorAdapter)
// and the driver that opens it.
//
//   - Exactly six calls per channel: Start, Stop, RunForDegrees, RunToPosition,
//     Speed, Position.
//   - Errors are normalized to INVALID_RANGE, BUSY, UNAVAILABLE, INTERNAL.
package adapter

import (
	"context"
)

// Sense is the rotation sense passed to the hardware on start.
type Sense int

const (
	Forward Sense = 1
	Reverse Sense = -1
)

// SenseOf returns the rotation sense of a signed value. Zero is Forward.
func SenseOf(v float64) Sense {
	if v < 0 {
		return Reverse
	}
	return Forward
}

// IMotorAdapter defines the stable southbound contract for one motor channel.
type IMotorAdapter interface {
	// Start spins the motor until stopped.
	// Params: speed magnitude (0-100), sense selects the rotation direction
	Start(ctx context.Context, speed float64, sense Sense) error

	// Stop halts the motor immediately.
	Stop(ctx context.Context) error

	// RunForDegrees rotates by a signed delta and returns when the move completes.
	RunForDegrees(ctx context.Context, degrees float64, speed float64) error

	// RunToPosition moves to an absolute angle in [0,360) and returns when done.
	RunToPosition(ctx context.Context, position float64, speed float64) error

	// Speed reads the instantaneous speed.
	Speed(ctx context.Context) (float64, error)

	// Position reads the cumulative position in degrees.
	Position(ctx context.Context) (float64, error)
}

// Driver opens the adapter for one channel. A driver may refuse a channel
// it does not wire (UNAVAILABLE).
type Driver interface {
	Open(ctx context.Context, port string) (IMotorAdapter, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context, port string) (IMotorAdapter, error)

// Open calls f.
func (f DriverFunc) Open(ctx context.Context, port string) (IMotorAdapter, error) {
	return f(ctx, port)
}

// AdapterBase carries the identity shared by adapter implementations.
type AdapterBase struct {
	// Port identifies the channel this adapter drives
	Port string

	// Model identifies the motor model
	Model string
}

// GetModel returns the motor model.
func (a *AdapterBase) GetModel() string {
	return a.Model
}

// Modeled is implemented by adapters that report a motor model.
type Modeled interface {
	GetModel() string
}
