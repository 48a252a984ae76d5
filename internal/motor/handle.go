package motor

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/monitor-car/mcc/internal/adapter"
	"github.com/monitor-car/mcc/internal/kinematics"
)

// Handle is the owned claim on one motor channel.
type Handle struct {
	port          string
	circumference float64
	hw            adapter.IMotorAdapter
	registry      *Registry
	family        string
	claimedAt     time.Time

	once     sync.Once
	closeErr error

	mu   sync.Mutex
	task *Task
}

// Port returns the channel identifier.
func (h *Handle) Port() string { return h.port }

// Circumference returns the wheel circumference in centimetres.
func (h *Handle) Circumference() float64 { return h.circumference }

// Info returns a snapshot of the handle.
func (h *Handle) Info() Info {
	info := Info{
		Port:          h.port,
		Circumference: h.circumference,
		ClaimedAt:     h.claimedAt,
	}
	if m, ok := h.hw.(adapter.Modeled); ok {
		info.Model = m.GetModel()
	}
	if task := h.Task(); task != nil && task.Running() {
		info.Running = true
		info.TaskID = task.ID.String()
	}
	return info
}

// Start spins the motor at |speed*direction| in the sense of its sign.
func (h *Handle) Start(ctx context.Context, speed float64, direction int) error {
	v := speed * float64(direction)
	return h.normalize("Start", h.hw.Start(ctx, math.Abs(v), adapter.SenseOf(v)))
}

// Stop cancels any run-forever task, then stops the motor.
func (h *Handle) Stop(ctx context.Context) error {
	if task := h.detach(); task != nil {
		task.Cancel()
		task.Wait()
	}
	return h.normalize("Stop", h.hw.Stop(ctx))
}

// RunForTurns rotates by turns. The sign of turns*speed*direction selects
// the direction of travel; the hardware receives the magnitude of speed.
func (h *Handle) RunForTurns(ctx context.Context, turns, speed float64, direction int) error {
	degrees := kinematics.TurnsToDegrees(turns)
	v := speed * float64(direction)
	if v < 0 {
		degrees = -degrees
	}
	return h.normalize("RunForDegrees", h.hw.RunForDegrees(ctx, degrees, math.Abs(v)))
}

// RunForDistance rotates the wheel far enough to travel distance centimetres.
func (h *Handle) RunForDistance(ctx context.Context, distance, speed float64, direction int) error {
	turns, err := kinematics.DistanceToTurns(distance, h.circumference)
	if err != nil {
		return err
	}
	return h.RunForTurns(ctx, turns, speed, direction)
}

// PlanPosition reads the current position and resolves requested under policy.
func (h *Handle) PlanPosition(ctx context.Context, requested float64, policy kinematics.Policy) (kinematics.Target, error) {
	current, err := h.hw.Position(ctx)
	if err != nil {
		return kinematics.Target{}, h.normalize("Position", err)
	}
	return kinematics.ResolveTargetAngle(current, requested, policy), nil
}

// Seek moves to a resolved target. When the absolute move fails it retries
// once as a relative move of target.Delta; the returned HardwareError
// records both failures if the fallback fails too.
func (h *Handle) Seek(ctx context.Context, target kinematics.Target, speed float64) error {
	if target.Delta == 0 {
		return nil
	}
	speed = math.Abs(speed)

	err := h.hw.RunToPosition(ctx, target.Angle, speed)
	if err == nil {
		return nil
	}
	h.registry.logger.Sugar().Warnw("position seek failed, falling back to relative move",
		"port", h.port, "angle", target.Angle, "delta", target.Delta, "error", err)

	ferr := h.hw.RunForDegrees(ctx, target.Delta, speed)
	if ferr == nil {
		return nil
	}

	normalized := h.normalize("RunToPosition", err)
	var hwErr *adapter.HardwareError
	if errors.As(normalized, &hwErr) {
		withFallback := *hwErr
		withFallback.Fallback = ferr
		return &withFallback
	}
	return normalized
}

// RunToPosition resolves requested under policy and seeks to it.
func (h *Handle) RunToPosition(ctx context.Context, requested, speed float64, policy kinematics.Policy) error {
	target, err := h.PlanPosition(ctx, requested, policy)
	if err != nil {
		return err
	}
	return h.Seek(ctx, target, speed)
}

// RunForever starts the motor on a detached task that runs until Stop,
// Close or a newer RunForever on the same handle. The new task issues its
// Start only after the task it replaces has ended.
func (h *Handle) RunForever(ctx context.Context, speed float64, direction int) *Task {
	v := speed * float64(direction)
	h.mu.Lock()
	defer h.mu.Unlock()
	task := startTask(ctx, h.port, h.task, func(ctx context.Context) error {
		return h.normalize("Start", h.hw.Start(ctx, math.Abs(v), adapter.SenseOf(v)))
	})
	h.task = task
	return task
}

// Speed reads the instantaneous speed.
func (h *Handle) Speed(ctx context.Context) (float64, error) {
	v, err := h.hw.Speed(ctx)
	return v, h.normalize("Speed", err)
}

// Position reads the cumulative position.
func (h *Handle) Position(ctx context.Context) (float64, error) {
	v, err := h.hw.Position(ctx)
	return v, h.normalize("Position", err)
}

// Task returns the attached run-forever task, or nil.
func (h *Handle) Task() *Task {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task
}

// Close releases the claim exactly once. Later calls return the first result.
func (h *Handle) Close() error {
	h.once.Do(func() {
		h.closeErr = h.registry.release(h)
	})
	return h.closeErr
}

func (h *Handle) detach() *Task {
	h.mu.Lock()
	defer h.mu.Unlock()
	task := h.task
	h.task = nil
	return task
}

func (h *Handle) normalize(op string, err error) error {
	return adapter.NormalizeHardwareErrorWithFamily(h.port, op, err, h.family)
}
