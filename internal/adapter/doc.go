// Package adapter defines the motor adapter interface for the Motor Control Container.
//
// Motor adapters wrap one hardware channel each. The IMotorAdapter interface is
// the only surface the rest of the container uses to move or read a motor;
// everything above it (handles, synchronizer, dispatcher) is hardware-agnostic.
//
// References:
//   - Hardware boundary: start, stop, run-for-degrees, run-to-position, speed, position
//   - Error code normalization: INVALID_RANGE, BUSY, UNAVAILABLE, INTERNAL
package adapter
