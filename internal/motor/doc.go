// Package motor owns the claimed motor channels of the Motor Control Container.
//
// A Registry maps each port to at most one live Handle. Handles wrap the
// hardware adapter for that port with the single-motor operations (start,
// stop, bounded moves, position seeks with fallback, reads) and track the
// detached run-forever Task, if any.
package motor
