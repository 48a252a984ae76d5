// Package api implements the HTTP gateway of the motor command container.
//
// Under /api/v1 it exposes health, the claimed motor list, command
// dispatch (JSON or CBOR envelopes) and the SSE telemetry stream. Every
// JSON response uses the {result, data|code+message, correlationId}
// envelope.
package api
