// Package telemetry implements the telemetry hub for the Motor Control Container.
//
// The hub fans out events to all SSE clients and buffers the last N events
// per motor channel so a reconnecting client can resume with Last-Event-ID.
// Event IDs are monotonic per channel; events without a channel share the
// "global" sequence and are not buffered.
package telemetry
