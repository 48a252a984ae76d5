// Package audit implements the audit trail for the Motor Control Container.
//
// Every dispatched command produces one JSON line with the actor, the
// channels involved, parameters, outcome and latency. The file is rotated
// by size through lumberjack.
package audit
