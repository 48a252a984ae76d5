// Package fake provides a fake motor adapter implementation for testing.
//
// The fake records every hardware call, can fail any operation on demand
// and can hold an operation open until the test releases it.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/monitor-car/mcc/internal/adapter"
)

// Operation names as recorded in Call.Op.
const (
	OpStart         = "Start"
	OpStop          = "Stop"
	OpRunForDegrees = "RunForDegrees"
	OpRunToPosition = "RunToPosition"
	OpSpeed         = "Speed"
	OpPosition      = "Position"
)

// Call is one recorded hardware call.
type Call struct {
	Port string
	Op   string
	Args []float64
}

// Gate holds an operation until Release is called.
type Gate struct {
	// Entered receives the port each time a call reaches the gate.
	Entered chan string

	release chan struct{}
	once    sync.Once
}

// Release lets every held and future call through.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.release) })
}

// FakeAdapter implements IMotorAdapter for testing purposes.
type FakeAdapter struct {
	adapter.AdapterBase

	mu       sync.Mutex
	speed    float64
	position float64
	calls    []Call
	failures map[string]error
	gates    map[string]*Gate
	delays   map[string]time.Duration

	// Error simulation for every operation
	simulateErrors bool
	errorType      string
}

// NewFakeAdapter creates a new fake adapter for testing.
func NewFakeAdapter(port string) *FakeAdapter {
	return &FakeAdapter{
		AdapterBase: adapter.AdapterBase{
			Port:  port,
			Model: "Fake-Motor-Test",
		},
		failures: make(map[string]error),
		gates:    make(map[string]*Gate),
		delays:   make(map[string]time.Duration),
	}
}

// Start spins the motor at speed in the given sense.
func (f *FakeAdapter) Start(ctx context.Context, speed float64, sense adapter.Sense) error {
	if err := f.enter(ctx, OpStart, speed, float64(sense)); err != nil {
		return err
	}
	if speed < 0 || speed > 100 {
		return fmt.Errorf("INVALID_RANGE: speed %.1f is outside valid range [0, 100]", speed)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.speed = speed * float64(sense)
	return nil
}

// Stop halts the motor.
func (f *FakeAdapter) Stop(ctx context.Context) error {
	if err := f.enter(ctx, OpStop); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.speed = 0
	return nil
}

// RunForDegrees moves the position by a signed delta.
func (f *FakeAdapter) RunForDegrees(ctx context.Context, degrees float64, speed float64) error {
	if err := f.enter(ctx, OpRunForDegrees, degrees, speed); err != nil {
		return err
	}
	if speed < 0 || speed > 100 {
		return fmt.Errorf("INVALID_RANGE: speed %.1f is outside valid range [0, 100]", speed)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.position += degrees
	return nil
}

// RunToPosition sets the position to an absolute angle.
func (f *FakeAdapter) RunToPosition(ctx context.Context, position float64, speed float64) error {
	if err := f.enter(ctx, OpRunToPosition, position, speed); err != nil {
		return err
	}
	if position < 0 || position >= 360 {
		return fmt.Errorf("INVALID_RANGE: position %.1f is outside valid range [0, 360)", position)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = position
	return nil
}

// Speed reads the current speed.
func (f *FakeAdapter) Speed(ctx context.Context) (float64, error) {
	if err := f.enter(ctx, OpSpeed); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speed, nil
}

// Position reads the current position.
func (f *FakeAdapter) Position(ctx context.Context) (float64, error) {
	if err := f.enter(ctx, OpPosition); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, nil
}

// enter records the call, then applies cancellation, gates and failures.
func (f *FakeAdapter) enter(ctx context.Context, op string, args ...float64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{Port: f.Port, Op: op, Args: args})
	gate := f.gates[op]
	failure := f.failures[op]
	delay := f.delays[op]
	simulate := f.simulateErrors
	f.mu.Unlock()

	// Hardware calls already on the wire do not observe cancellation.
	if delay > 0 {
		time.Sleep(delay)
	}

	if gate != nil {
		select {
		case gate.Entered <- f.Port:
		default:
		}
		select {
		case <-gate.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if simulate {
		return f.getSimulatedError()
	}
	return failure
}

// Helper methods for testing

// FailOn makes every call to op return err. A nil err clears the failure.
func (f *FakeAdapter) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// Delay makes every call to op take d, ignoring cancellation.
func (f *FakeAdapter) Delay(op string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[op] = d
}

// Block holds every call to op until the returned gate is released.
func (f *FakeAdapter) Block(op string) *Gate {
	gate := &Gate{
		Entered: make(chan string, 16),
		release: make(chan struct{}),
	}
	f.mu.Lock()
	f.gates[op] = gate
	f.mu.Unlock()
	return gate
}

// Calls returns a copy of the recorded calls.
func (f *FakeAdapter) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor returns the recorded calls for one operation.
func (f *FakeAdapter) CallsFor(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// SetErrorSimulation enables error simulation for every operation.
func (f *FakeAdapter) SetErrorSimulation(errorType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulateErrors = true
	f.errorType = errorType
}

// DisableErrorSimulation disables error simulation.
func (f *FakeAdapter) DisableErrorSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulateErrors = false
	f.errorType = ""
}

func (f *FakeAdapter) getSimulatedError() error {
	f.mu.Lock()
	errorType := f.errorType
	f.mu.Unlock()

	switch errorType {
	case "INVALID_RANGE":
		return fmt.Errorf("INVALID_RANGE: simulated range error")
	case "BUSY":
		return fmt.Errorf("BUSY: simulated busy error")
	case "UNAVAILABLE":
		return fmt.Errorf("UNAVAILABLE: simulated unavailable error")
	default:
		return fmt.Errorf("INTERNAL: simulated internal error")
	}
}

// GetCurrentState returns speed and position (for testing).
func (f *FakeAdapter) GetCurrentState() (float64, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speed, f.position
}

// SetCurrentState sets speed and position (for testing).
func (f *FakeAdapter) SetCurrentState(speed, position float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speed = speed
	f.position = position
}

// Driver hands out one FakeAdapter per port, created on first open.
type Driver struct {
	mu       sync.Mutex
	adapters map[string]*FakeAdapter
	openErr  map[string]error
	opened   []string
}

// NewDriver creates an empty fake driver.
func NewDriver() *Driver {
	return &Driver{
		adapters: make(map[string]*FakeAdapter),
		openErr:  make(map[string]error),
	}
}

// Open returns the adapter for port, creating it if needed.
func (d *Driver) Open(ctx context.Context, port string) (adapter.IMotorAdapter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.openErr[port]; err != nil {
		return nil, err
	}
	d.opened = append(d.opened, port)
	return d.adapterLocked(port), nil
}

// Adapter returns the adapter for port, creating it if needed.
func (d *Driver) Adapter(port string) *FakeAdapter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.adapterLocked(port)
}

// FailOpen makes Open fail for port.
func (d *Driver) FailOpen(port string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr[port] = err
}

// Opened returns the ports opened so far, in order.
func (d *Driver) Opened() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.opened))
	copy(out, d.opened)
	return out
}

func (d *Driver) adapterLocked(port string) *FakeAdapter {
	a, ok := d.adapters[port]
	if !ok {
		a = NewFakeAdapter(port)
		d.adapters[port] = a
	}
	return a
}
