// Package command implements the command dispatcher for the Motor Control Container.
//
// The dispatcher parses a command envelope (JSON or CBOR), validates the
// referenced channels against the motor registry, runs the operation
// through a motor handle or the synchronizer, writes an audit record and
// publishes a telemetry event. Every outcome is returned as a Result; the
// dispatcher never panics on bad input.
package command
