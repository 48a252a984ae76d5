// Package sim provides a simulated motor adapter for development and demos.
//
// The simulated motor integrates its position from speed while running and
// supports fault injection on every call.
package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/monitor-car/mcc/internal/adapter"
)

// Fault injection modes.
const (
	FaultNone         = ""
	FaultBusy         = "ReturnBusy"
	FaultStalled      = "ReturnStalled"
	FaultUnavailable  = "ReturnUnavailable"
	FaultInvalidRange = "ReturnInvalidRange"
)

// DefaultRatedDPS is the rotation rate in degrees per second at speed 100.
const DefaultRatedDPS = 600.0

// Options configures a simulated motor.
type Options struct {
	// RatedDPS is degrees per second at speed 100. Zero uses DefaultRatedDPS.
	RatedDPS float64
	// Realtime makes bounded moves take as long as they would on hardware.
	Realtime bool
}

// Motor implements IMotorAdapter with an in-memory motor model.
type Motor struct {
	adapter.AdapterBase

	mu          sync.RWMutex
	speed       float64 // signed, 0 when stopped
	position    float64 // cumulative degrees
	since       time.Time
	lastCommand time.Time
	faultMode   string
	faultOps    map[string]bool

	opts Options
	now  func() time.Time
}

// NewMotor creates a stopped simulated motor at position 0.
func NewMotor(port string, opts Options) *Motor {
	if opts.RatedDPS <= 0 {
		opts.RatedDPS = DefaultRatedDPS
	}
	now := time.Now()
	return &Motor{
		AdapterBase: adapter.AdapterBase{
			Port:  port,
			Model: "SimMotor",
		},
		since:       now,
		lastCommand: now,
		opts:        opts,
		now:         time.Now,
	}
}

// Start spins the motor until Stop.
func (m *Motor) Start(ctx context.Context, speed float64, sense adapter.Sense) error {
	if err := m.precheck(ctx, "Start"); err != nil {
		return err
	}
	if err := checkSpeed(speed); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleLocked()
	m.speed = speed * float64(sense)
	m.lastCommand = m.now()
	return nil
}

// Stop halts the motor.
func (m *Motor) Stop(ctx context.Context) error {
	if err := m.precheck(ctx, "Stop"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleLocked()
	m.speed = 0
	m.lastCommand = m.now()
	return nil
}

// RunForDegrees rotates by a signed delta.
func (m *Motor) RunForDegrees(ctx context.Context, degrees float64, speed float64) error {
	if err := m.precheck(ctx, "RunForDegrees"); err != nil {
		return err
	}
	if err := checkSpeed(speed); err != nil {
		return err
	}
	return m.move(ctx, degrees, speed)
}

// RunToPosition moves to an absolute angle along the shortest path.
func (m *Motor) RunToPosition(ctx context.Context, position float64, speed float64) error {
	if err := m.precheck(ctx, "RunToPosition"); err != nil {
		return err
	}
	if err := checkSpeed(speed); err != nil {
		return err
	}
	if position < 0 || position >= 360 {
		return fmt.Errorf("INVALID_RANGE: position %.1f is outside valid range [0, 360)", position)
	}

	m.mu.Lock()
	m.settleLocked()
	current := math.Mod(math.Mod(m.position, 360)+360, 360)
	m.mu.Unlock()

	delta := position - current
	if delta > 180 {
		delta -= 360
	} else if delta < -180 {
		delta += 360
	}
	return m.move(ctx, delta, speed)
}

// Speed reads the current signed speed.
func (m *Motor) Speed(ctx context.Context) (float64, error) {
	if err := m.precheck(ctx, "Speed"); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.speed, nil
}

// Position reads the cumulative position in degrees.
func (m *Motor) Position(ctx context.Context) (float64, error) {
	if err := m.precheck(ctx, "Position"); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleLocked()
	return m.position, nil
}

func (m *Motor) move(ctx context.Context, degrees, speed float64) error {
	if m.opts.Realtime && speed > 0 && degrees != 0 {
		d := time.Duration(math.Abs(degrees) / (m.opts.RatedDPS * speed / 100) * float64(time.Second))
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleLocked()
	m.position += degrees
	m.lastCommand = m.now()
	return nil
}

// settleLocked folds the rotation since the last update into position.
func (m *Motor) settleLocked() {
	now := m.now()
	if m.speed != 0 {
		m.position += m.speed / 100 * m.opts.RatedDPS * now.Sub(m.since).Seconds()
	}
	m.since = now
}

func (m *Motor) precheck(ctx context.Context, operation string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return m.checkFaultMode(operation)
}

func checkSpeed(speed float64) error {
	if speed < 0 || speed > 100 {
		return fmt.Errorf("INVALID_RANGE: speed %.1f is outside valid range [0, 100]", speed)
	}
	return nil
}

// Fault injection methods

// SetFaultMode injects a fault. With no ops listed it applies to every call.
func (m *Motor) SetFaultMode(mode string, ops ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faultMode = mode
	m.faultOps = nil
	if len(ops) > 0 {
		m.faultOps = make(map[string]bool, len(ops))
		for _, op := range ops {
			m.faultOps[op] = true
		}
	}
}

// ClearFaultMode clears the fault injection mode.
func (m *Motor) ClearFaultMode() {
	m.SetFaultMode(FaultNone)
}

func (m *Motor) checkFaultMode(operation string) error {
	m.mu.RLock()
	mode := m.faultMode
	scoped := m.faultOps != nil && !m.faultOps[operation]
	m.mu.RUnlock()

	if scoped {
		return nil
	}

	switch mode {
	case FaultBusy:
		return fmt.Errorf("MOTOR_BUSY: simulated busy error for %s on port %s", operation, m.Port)
	case FaultStalled:
		return fmt.Errorf("MOTOR_STALLED: simulated stall for %s on port %s", operation, m.Port)
	case FaultUnavailable:
		return fmt.Errorf("DEVICE_NOT_CONNECTED: simulated disconnect for %s on port %s", operation, m.Port)
	case FaultInvalidRange:
		return fmt.Errorf("INVALID_RANGE: simulated range error for %s on port %s", operation, m.Port)
	default:
		return nil
	}
}

// Helper methods for testing

// GetCurrentState returns the signed speed and cumulative position.
func (m *Motor) GetCurrentState() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleLocked()
	return m.speed, m.position
}

// SetCurrentState sets speed and position.
func (m *Motor) SetCurrentState(speed, position float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.since = m.now()
	m.speed = speed
	m.position = position
	m.lastCommand = m.now()
}

// GetLastCommandTime returns the time of the last command.
func (m *Motor) GetLastCommandTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCommand
}

// Driver opens one simulated motor per wired port.
type Driver struct {
	mu     sync.Mutex
	motors map[string]*Motor
	opts   Options
}

// NewDriver wires a simulated motor to every port in ports.
func NewDriver(ports []string, opts Options) *Driver {
	d := &Driver{motors: make(map[string]*Motor, len(ports)), opts: opts}
	for _, p := range ports {
		d.motors[p] = NewMotor(p, opts)
	}
	return d
}

// Open returns the motor wired to port.
func (d *Driver) Open(ctx context.Context, port string) (adapter.IMotorAdapter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.motors[port]
	if !ok {
		return nil, fmt.Errorf("PORT_NOT_FOUND: no motor wired to port %s", port)
	}
	return m, nil
}

// Motor returns the simulated motor on port, or nil.
func (d *Driver) Motor(port string) *Motor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.motors[port]
}
