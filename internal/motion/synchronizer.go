// Package motion runs one operation across several motor handles at once.
//
// Bounded moves fan out one goroutine per handle and return only after every
// goroutine has finished. Run-forever fans out detached tasks and returns
// immediately. Reads are sequential and ordered like the input handles.
package motion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/monitor-car/mcc/internal/kinematics"
	"github.com/monitor-car/mcc/internal/motor"
)

// ErrParameterCount is returned when a per-handle parameter list is neither
// empty, a single broadcast value, nor one value per handle.
var ErrParameterCount = errors.New("PARAMETER_COUNT")

// Op names a synchronized operation.
type Op string

const (
	OpRunForTurns    Op = "run-for-turns"
	OpRunToPosition  Op = "run-to-position"
	OpStop           Op = "stop"
	OpRunForever     Op = "run-forever"
	OpRunForDistance Op = "run-for-distance"
	OpReadSpeed      Op = "read-speed"
	OpReadPosition   Op = "read-position"
)

// Defaults are applied to omitted per-handle parameters.
type Defaults struct {
	Speed     float64
	Direction int
	Turns     float64
	Distance  float64
	Position  float64
}

// DefaultDefaults returns the stock parameter defaults.
func DefaultDefaults() Defaults {
	return Defaults{Speed: 50, Direction: 1, Turns: 1, Distance: 10, Position: 0}
}

// Synchronizer executes operations over handle sets.
type Synchronizer struct {
	defaults Defaults
	logger   *zap.Logger
}

// NewSynchronizer creates a synchronizer.
func NewSynchronizer(defaults Defaults, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{defaults: defaults, logger: logger}
}

// Defaults returns the parameter defaults in use.
func (s *Synchronizer) Defaults() Defaults {
	return s.defaults
}

// RunForTurns rotates every handle by its turns and waits for all of them.
func (s *Synchronizer) RunForTurns(ctx context.Context, handles []*motor.Handle, turns, speeds []float64, directions []int) error {
	n := len(handles)
	t, err := broadcast("turns", turns, n, s.defaults.Turns)
	if err != nil {
		return err
	}
	sp, dir, err := s.speedsAndDirections(speeds, directions, n)
	if err != nil {
		return err
	}

	return s.join(ctx, OpRunForTurns, handles, func(ctx context.Context, i int, h *motor.Handle) error {
		return h.RunForTurns(ctx, t[i], sp[i], dir[i])
	})
}

// RunForDistance moves every handle by its distance and waits for all of them.
func (s *Synchronizer) RunForDistance(ctx context.Context, handles []*motor.Handle, distances, speeds []float64, directions []int) error {
	n := len(handles)
	d, err := broadcast("distances", distances, n, s.defaults.Distance)
	if err != nil {
		return err
	}
	sp, dir, err := s.speedsAndDirections(speeds, directions, n)
	if err != nil {
		return err
	}

	return s.join(ctx, OpRunForDistance, handles, func(ctx context.Context, i int, h *motor.Handle) error {
		return h.RunForDistance(ctx, d[i], sp[i], dir[i])
	})
}

// RunToPosition resolves every target first, then seeks all handles at once
// and waits for all of them.
func (s *Synchronizer) RunToPosition(ctx context.Context, handles []*motor.Handle, positions, speeds []float64, policy kinematics.Policy) error {
	n := len(handles)
	pos, err := broadcast("positions", positions, n, s.defaults.Position)
	if err != nil {
		return err
	}
	sp, err := broadcast("speeds", speeds, n, s.defaults.Speed)
	if err != nil {
		return err
	}

	targets := make([]kinematics.Target, n)
	for i, h := range handles {
		target, err := h.PlanPosition(ctx, pos[i], policy)
		if err != nil {
			return err
		}
		targets[i] = target
	}

	return s.join(ctx, OpRunToPosition, handles, func(ctx context.Context, i int, h *motor.Handle) error {
		return h.Seek(ctx, targets[i], sp[i])
	})
}

// Stop stops every handle and waits for all of them.
func (s *Synchronizer) Stop(ctx context.Context, handles []*motor.Handle) error {
	return s.join(ctx, OpStop, handles, func(ctx context.Context, _ int, h *motor.Handle) error {
		return h.Stop(ctx)
	})
}

// RunForever launches one detached task per handle and returns without
// waiting. Stop or release cancels the tasks.
func (s *Synchronizer) RunForever(ctx context.Context, handles []*motor.Handle, speeds []float64, directions []int) ([]*motor.Task, error) {
	sp, dir, err := s.speedsAndDirections(speeds, directions, len(handles))
	if err != nil {
		return nil, err
	}

	tasks := make([]*motor.Task, len(handles))
	for i, h := range handles {
		tasks[i] = h.RunForever(ctx, sp[i], dir[i])
	}
	s.logger.Debug("run-forever tasks launched", zap.Int("tasks", len(tasks)))
	return tasks, nil
}

// ReadSpeed reads every handle in order, each multiplied by its direction.
func (s *Synchronizer) ReadSpeed(ctx context.Context, handles []*motor.Handle, directions []int) ([]float64, error) {
	return s.read(ctx, handles, directions, (*motor.Handle).Speed)
}

// ReadPosition reads every handle in order, each multiplied by its direction.
func (s *Synchronizer) ReadPosition(ctx context.Context, handles []*motor.Handle, directions []int) ([]float64, error) {
	return s.read(ctx, handles, directions, (*motor.Handle).Position)
}

func (s *Synchronizer) read(ctx context.Context, handles []*motor.Handle, directions []int, get func(*motor.Handle, context.Context) (float64, error)) ([]float64, error) {
	dir, err := broadcast("directions", directions, len(handles), s.defaults.Direction)
	if err != nil {
		return nil, err
	}

	values := make([]float64, len(handles))
	for i, h := range handles {
		v, err := get(h, ctx)
		if err != nil {
			return nil, err
		}
		values[i] = v * float64(dir[i])
	}
	return values, nil
}

// join runs fn once per handle concurrently and waits for every call.
// All failures are reported, not just the first.
func (s *Synchronizer) join(ctx context.Context, op Op, handles []*motor.Handle, fn func(ctx context.Context, i int, h *motor.Handle) error) error {
	start := time.Now()
	errs := make([]error, len(handles))

	var g errgroup.Group
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			if err := fn(ctx, i, h); err != nil {
				errs[i] = fmt.Errorf("port %s: %w", h.Port(), err)
				return errs[i]
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	s.logger.Debug("synchronized operation finished",
		zap.String("op", string(op)),
		zap.Int("handles", len(handles)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	return err
}

func (s *Synchronizer) speedsAndDirections(speeds []float64, directions []int, n int) ([]float64, []int, error) {
	sp, err := broadcast("speeds", speeds, n, s.defaults.Speed)
	if err != nil {
		return nil, nil, err
	}
	dir, err := broadcast("directions", directions, n, s.defaults.Direction)
	if err != nil {
		return nil, nil, err
	}
	return sp, dir, nil
}

// broadcast expands vals to n entries: empty uses def, one value is
// repeated, n values are used as given.
func broadcast[T any](name string, vals []T, n int, def T) ([]T, error) {
	out := make([]T, n)
	switch len(vals) {
	case 0:
		for i := range out {
			out[i] = def
		}
	case 1:
		for i := range out {
			out[i] = vals[0]
		}
	case n:
		copy(out, vals)
	default:
		return nil, fmt.Errorf("%w: %d %s for %d channels", ErrParameterCount, len(vals), name, n)
	}
	return out, nil
}
