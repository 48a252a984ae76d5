// Package kinematics converts between turns, degrees and wheel distance and
// resolves absolute angle targets under a rotation policy.
package kinematics

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// DefaultWheelCircumference is the wheel circumference in centimetres.
const DefaultWheelCircumference = 17.5

var (
	ErrInvalidCircumference = errors.New("INVALID_CIRCUMFERENCE")
	ErrUnknownPolicy        = errors.New("UNKNOWN_POLICY")
)

// Policy selects the direction of travel toward an absolute angle.
type Policy int

const (
	Shortest Policy = iota
	Clockwise
	CounterClockwise
)

func (p Policy) String() string {
	switch p {
	case Clockwise:
		return "clockwise"
	case CounterClockwise:
		return "counterclockwise"
	default:
		return "shortest"
	}
}

// ParsePolicy parses a policy name. An empty name is Shortest.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "shortest":
		return Shortest, nil
	case "clockwise", "cw":
		return Clockwise, nil
	case "counterclockwise", "anticlockwise", "ccw":
		return CounterClockwise, nil
	default:
		return Shortest, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// TurnsToDegrees converts wheel turns to degrees.
func TurnsToDegrees(turns float64) float64 {
	return turns * 360
}

// DistanceToTurns converts a linear distance to wheel turns.
func DistanceToTurns(distance, circumference float64) (float64, error) {
	if circumference <= 0 || math.IsNaN(circumference) || math.IsInf(circumference, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCircumference, circumference)
	}
	return distance / circumference, nil
}

// Normalize maps any angle into [0,360).
func Normalize(angle float64) float64 {
	a := math.Mod(angle, 360)
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a = 0
	}
	return a
}

// Target is a resolved absolute move.
type Target struct {
	// Current is the normalized starting angle.
	Current float64
	// Adjusted is the requested angle after the policy adjustment,
	// before re-normalization. It may lie outside [0,360).
	Adjusted float64
	// Angle is Adjusted re-normalized into [0,360); the value sent to hardware.
	Angle float64
	// Delta is the signed travel from Current.
	Delta float64
}

// ResolveTargetAngle resolves requested against current under policy.
// Both inputs are normalized before the adjustment and the result is
// normalized again after it; a single normalization travels the wrong way
// across the 0/360 boundary.
func ResolveTargetAngle(current, requested float64, policy Policy) Target {
	cur := Normalize(current)
	req := Normalize(requested)
	adj := req

	switch policy {
	case Shortest:
		diff := req - cur
		if math.Abs(diff) > 180 {
			if diff > 0 {
				adj -= 360
			} else {
				adj += 360
			}
		}
	case Clockwise:
		if adj < cur {
			adj += 360
		}
	case CounterClockwise:
		if adj > cur {
			adj -= 360
		}
	}

	return Target{
		Current:  cur,
		Adjusted: adj,
		Angle:    Normalize(adj),
		Delta:    adj - cur,
	}
}
