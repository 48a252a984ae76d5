package command

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/monitor-car/mcc/internal/motor"
	"github.com/monitor-car/mcc/internal/telemetry"
)

func (d *Dispatcher) createMotor(ctx context.Context, req *request) (Result, error) {
	port, err := req.env.String("port", "A")
	if err != nil {
		return Result{}, err
	}
	circ, err := req.env.Number("wheel_circumference", d.circumference)
	if err != nil {
		return Result{}, err
	}
	req.ports = []string{port}

	created, err := d.claim(ctx, port, circ)
	if err != nil {
		return Result{}, err
	}
	if !created {
		return ok(fmt.Sprintf("motor %s already exists", port)), nil
	}
	return ok(fmt.Sprintf("motor %s created", port)), nil
}

func (d *Dispatcher) createMotors(ctx context.Context, req *request) (Result, error) {
	ports, err := req.env.Strings("ports", d.defaultPorts)
	if err != nil {
		return Result{}, err
	}
	if len(ports) == 0 {
		return Result{}, invalidParam("ports", "at least one port is required")
	}
	circs, err := req.env.Numbers("wheel_circumferences")
	if err != nil {
		return Result{}, err
	}
	circs, err = expand("wheel_circumferences", circs, len(ports), d.circumference)
	if err != nil {
		return Result{}, err
	}
	req.ports = ports

	var createdPorts []string
	for i, port := range ports {
		created, err := d.claim(ctx, port, circs[i])
		if err != nil {
			d.rollback(createdPorts)
			if len(createdPorts) > 0 {
				return Result{}, fmt.Errorf("port %s: %w (released %v claimed by this command)", port, err, createdPorts)
			}
			return Result{}, fmt.Errorf("port %s: %w", port, err)
		}
		if created {
			createdPorts = append(createdPorts, port)
		}
	}

	if len(createdPorts) == 0 {
		return ok(fmt.Sprintf("motors %v already exist", ports)), nil
	}
	return ok(fmt.Sprintf("motors %v created", createdPorts)), nil
}

// rollback releases ports claimed earlier in a create command that failed.
func (d *Dispatcher) rollback(ports []string) {
	for _, port := range ports {
		if err := d.registry.Release(port); err != nil {
			d.logger.Warn("rollback release failed", zap.String("port", port), zap.Error(err))
			continue
		}
		_ = d.publisher.PublishChannel(port, telemetry.Event{
			Type: telemetry.EventMotorReleased,
			Data: map[string]interface{}{"port": port},
		})
	}
}

// claim claims port unless it is already live. created is false when the
// port was claimed before, including by a concurrent caller.
func (d *Dispatcher) claim(ctx context.Context, port string, circ float64) (created bool, err error) {
	if _, exists := d.registry.Get(port); exists {
		return false, nil
	}

	ctx, cancel := withTimeout(ctx, d.timing.CommandTimeoutClaim)
	defer cancel()

	if _, err := d.registry.Claim(ctx, port, circ); err != nil {
		if errors.Is(err, motor.ErrAlreadyClaimed) {
			return false, nil
		}
		return false, err
	}

	_ = d.publisher.PublishChannel(port, telemetry.Event{
		Type: telemetry.EventMotorClaimed,
		Data: map[string]interface{}{"port": port, "wheelCircumference": circ},
	})
	return true, nil
}

func (d *Dispatcher) runForTurns(ctx context.Context, req *request) (Result, error) {
	h, err := d.lookupOne(req)
	if err != nil {
		return Result{}, err
	}
	def := d.syncer.Defaults()
	turns, err := req.env.Number("turns", def.Turns)
	if err != nil {
		return Result{}, err
	}
	speed, direction, err := d.speedAndDirection(req.env)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := withTimeout(ctx, d.timing.CommandTimeoutMotion)
	defer cancel()
	if err := h.RunForTurns(ctx, turns, speed, direction); err != nil {
		return Result{}, err
	}

	d.publishChannels(req.ports, telemetry.EventMotion, map[string]interface{}{
		"op": req.env.Type, "turns": turns, "speed": speed, "direction": direction,
	})
	return ok(fmt.Sprintf("motor %s ran %v turns", h.Port(), turns)), nil
}

func (d *Dispatcher) runToPosition(ctx context.Context, req *request) (Result, error) {
	h, err := d.lookupOne(req)
	if err != nil {
		return Result{}, err
	}
	def := d.syncer.Defaults()
	position, err := req.env.Number("position", def.Position)
	if err != nil {
		return Result{}, err
	}
	speed, err := req.env.Number("speed", def.Speed)
	if err != nil {
		return Result{}, err
	}
	policy, err := d.policy(req.env)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := withTimeout(ctx, d.timing.CommandTimeoutMotion)
	defer cancel()
	if err := h.RunToPosition(ctx, position, speed, policy); err != nil {
		return Result{}, err
	}

	d.publishChannels(req.ports, telemetry.EventMotion, map[string]interface{}{
		"op": req.env.Type, "position": position, "speed": speed, "policy": policy.String(),
	})
	return ok(fmt.Sprintf("motor %s moved to position %v", h.Port(), position)), nil
}

func (d *Dispatcher) runForever(ctx context.Context, req *request) (Result, error) {
	h, err := d.lookupOne(req)
	if err != nil {
		return Result{}, err
	}
	speed, direction, err := d.speedAndDirection(req.env)
	if err != nil {
		return Result{}, err
	}

	task := h.RunForever(ctx, speed, direction)

	d.publishChannels(req.ports, telemetry.EventMotion, map[string]interface{}{
		"op": req.env.Type, "speed": speed, "direction": direction, "taskId": task.ID.String(),
	})
	res := ok(fmt.Sprintf("motor %s running", h.Port()))
	res.Tasks = 1
	res.TaskIDs = []string{task.ID.String()}
	return res, nil
}

func (d *Dispatcher) runForDistance(ctx context.Context, req *request) (Result, error) {
	h, err := d.lookupOne(req)
	if err != nil {
		return Result{}, err
	}
	distance, err := req.env.Number("distance", d.syncer.Defaults().Distance)
	if err != nil {
		return Result{}, err
	}
	speed, direction, err := d.speedAndDirection(req.env)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := withTimeout(ctx, d.timing.CommandTimeoutMotion)
	defer cancel()
	if err := h.RunForDistance(ctx, distance, speed, direction); err != nil {
		return Result{}, err
	}

	d.publishChannels(req.ports, telemetry.EventMotion, map[string]interface{}{
		"op": req.env.Type, "distance": distance, "speed": speed, "direction": direction,
	})
	return ok(fmt.Sprintf("motor %s ran %v cm", h.Port(), distance)), nil
}

func (d *Dispatcher) stop(ctx context.Context, req *request) (Result, error) {
	h, err := d.lookupOne(req)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := withTimeout(ctx, d.timing.CommandTimeoutStop)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		return Result{}, err
	}

	d.publishChannels(req.ports, telemetry.EventMotion, map[string]interface{}{"op": req.env.Type})
	return ok(fmt.Sprintf("motor %s stopped", h.Port())), nil
}

func (d *Dispatcher) getSpeed(ctx context.Context, req *request) (Result, error) {
	h, err := d.lookupOne(req)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := withTimeout(ctx, d.timing.CommandTimeoutRead)
	defer cancel()
	speed, err := h.Speed(ctx)
	if err != nil {
		return Result{}, err
	}

	d.publishChannels(req.ports, telemetry.EventReading, map[string]interface{}{"speed": speed})
	return Result{Success: true, Speed: &speed}, nil
}

func (d *Dispatcher) getPosition(ctx context.Context, req *request) (Result, error) {
	h, err := d.lookupOne(req)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := withTimeout(ctx, d.timing.CommandTimeoutRead)
	defer cancel()
	position, err := h.Position(ctx)
	if err != nil {
		return Result{}, err
	}

	d.publishChannels(req.ports, telemetry.EventReading, map[string]interface{}{"position": position})
	return Result{Success: true, Position: &position}, nil
}

func (d *Dispatcher) release(_ context.Context, req *request) (Result, error) {
	h, err := d.lookupOne(req)
	if err != nil {
		return Result{}, err
	}
	if err := h.Close(); err != nil {
		return Result{}, err
	}

	d.publishChannels(req.ports, telemetry.EventMotorReleased, map[string]interface{}{"port": h.Port()})
	return ok(fmt.Sprintf("motor %s released", h.Port())), nil
}

func (d *Dispatcher) runMotorsForTurns(ctx context.Context, req *request) (Result, error) {
	handles, err := d.lookupGroup(req)
	if err != nil {
		return Result{}, err
	}
	turns, err := req.env.Numbers("turns")
	if err != nil {
		return Result{}, err
	}
	speeds, directions, err := d.groupSpeedsAndDirections(req.env)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := withTimeout(ctx, d.timing.CommandTimeoutMotion)
	defer cancel()
	if err := d.syncer.RunForTurns(ctx, handles, turns, speeds, directions); err != nil {
		return Result{}, syncErr(err)
	}

	d.publishChannels(req.ports, telemetry.EventMotion, map[string]interface{}{"op": req.env.Type, "ports": req.ports})
	return ok(fmt.Sprintf("motors %v ran for turns", req.ports)), nil
}

func (d *Dispatcher) runMotorsToPositions(ctx context.Context, req *request) (Result, error) {
	handles, err := d.lookupGroup(req)
	if err != nil {
		return Result{}, err
	}
	positions, err := numbersOr(req.env, "positions", "position")
	if err != nil {
		return Result{}, err
	}
	speeds, err := numbersOr(req.env, "speeds", "speed")
	if err != nil {
		return Result{}, err
	}
	policy, err := d.policy(req.env)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := withTimeout(ctx, d.timing.CommandTimeoutMotion)
	defer cancel()
	if err := d.syncer.RunToPosition(ctx, handles, positions, speeds, policy); err != nil {
		return Result{}, syncErr(err)
	}

	d.publishChannels(req.ports, telemetry.EventMotion, map[string]interface{}{
		"op": req.env.Type, "ports": req.ports, "policy": policy.String(),
	})
	return ok(fmt.Sprintf("motors %v moved to positions %v", req.ports, positions)), nil
}

func (d *Dispatcher) stopMotors(ctx context.Context, req *request) (Result, error) {
	handles, err := d.lookupGroup(req)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := withTimeout(ctx, d.timing.CommandTimeoutStop)
	defer cancel()
	if err := d.syncer.Stop(ctx, handles); err != nil {
		return Result{}, err
	}

	d.publishChannels(req.ports, telemetry.EventMotion, map[string]interface{}{"op": req.env.Type})
	return ok(fmt.Sprintf("motors %v stopped", req.ports)), nil
}

func (d *Dispatcher) runMotorsForever(ctx context.Context, req *request) (Result, error) {
	handles, err := d.lookupGroup(req)
	if err != nil {
		return Result{}, err
	}
	speeds, directions, err := d.groupSpeedsAndDirections(req.env)
	if err != nil {
		return Result{}, err
	}

	tasks, err := d.syncer.RunForever(ctx, handles, speeds, directions)
	if err != nil {
		return Result{}, syncErr(err)
	}

	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID.String()
		_ = d.publisher.PublishChannel(task.Port, telemetry.Event{
			Type: telemetry.EventMotion,
			Data: map[string]interface{}{"op": req.env.Type, "taskId": ids[i]},
		})
	}
	res := ok(fmt.Sprintf("motors %v running", req.ports))
	res.Tasks = len(tasks)
	res.TaskIDs = ids
	return res, nil
}

func (d *Dispatcher) runMotorsForDistances(ctx context.Context, req *request) (Result, error) {
	handles, err := d.lookupGroup(req)
	if err != nil {
		return Result{}, err
	}
	distances, err := numbersOr(req.env, "distances", "distance")
	if err != nil {
		return Result{}, err
	}
	speeds, directions, err := d.groupSpeedsAndDirections(req.env)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := withTimeout(ctx, d.timing.CommandTimeoutMotion)
	defer cancel()
	if err := d.syncer.RunForDistance(ctx, handles, distances, speeds, directions); err != nil {
		return Result{}, syncErr(err)
	}

	d.publishChannels(req.ports, telemetry.EventMotion, map[string]interface{}{"op": req.env.Type, "ports": req.ports})
	return ok(fmt.Sprintf("motors %v ran distances %v", req.ports, distances)), nil
}

func (d *Dispatcher) getMotorsSpeeds(ctx context.Context, req *request) (Result, error) {
	handles, err := d.lookupGroup(req)
	if err != nil {
		return Result{}, err
	}
	directions, err := directionsOr(req.env)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := withTimeout(ctx, d.timing.CommandTimeoutRead)
	defer cancel()
	speeds, err := d.syncer.ReadSpeed(ctx, handles, directions)
	if err != nil {
		return Result{}, syncErr(err)
	}

	for i, port := range req.ports {
		_ = d.publisher.PublishChannel(port, telemetry.Event{
			Type: telemetry.EventReading,
			Data: map[string]interface{}{"speed": speeds[i]},
		})
	}
	return Result{Success: true, Speeds: speeds}, nil
}

func (d *Dispatcher) getMotorsPositions(ctx context.Context, req *request) (Result, error) {
	handles, err := d.lookupGroup(req)
	if err != nil {
		return Result{}, err
	}
	directions, err := directionsOr(req.env)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := withTimeout(ctx, d.timing.CommandTimeoutRead)
	defer cancel()
	positions, err := d.syncer.ReadPosition(ctx, handles, directions)
	if err != nil {
		return Result{}, syncErr(err)
	}

	for i, port := range req.ports {
		_ = d.publisher.PublishChannel(port, telemetry.Event{
			Type: telemetry.EventReading,
			Data: map[string]interface{}{"position": positions[i]},
		})
	}
	return Result{Success: true, Positions: positions}, nil
}

// releaseAll is best effort: hardware errors are logged, never returned.
func (d *Dispatcher) releaseAll(_ context.Context, req *request) (Result, error) {
	req.ports = d.registry.Ports()
	if err := d.registry.ReleaseAll(); err != nil {
		d.logger.Warn("release all reported errors", zap.Error(err))
	}

	d.publishChannels(req.ports, telemetry.EventMotorReleased, map[string]interface{}{"op": req.env.Type})
	return ok("all ports released"), nil
}

func (d *Dispatcher) listMotors(_ context.Context, req *request) (Result, error) {
	motors := d.registry.List()
	for _, info := range motors {
		req.ports = append(req.ports, info.Port)
	}
	res := ok(fmt.Sprintf("%d motors claimed", len(motors)))
	res.Motors = motors
	return res, nil
}

func (d *Dispatcher) speedAndDirection(env *Envelope) (float64, int, error) {
	def := d.syncer.Defaults()
	speed, err := env.Number("speed", def.Speed)
	if err != nil {
		return 0, 0, err
	}
	direction, err := env.Direction("direction", def.Direction)
	if err != nil {
		return 0, 0, err
	}
	return speed, direction, nil
}

func (d *Dispatcher) groupSpeedsAndDirections(env *Envelope) ([]float64, []int, error) {
	speeds, err := numbersOr(env, "speeds", "speed")
	if err != nil {
		return nil, nil, err
	}
	directions, err := directionsOr(env)
	if err != nil {
		return nil, nil, err
	}
	return speeds, directions, nil
}

// numbersOr reads the list key, falling back to the scalar key.
func numbersOr(env *Envelope, list, scalar string) ([]float64, error) {
	if env.Has(list) {
		return env.Numbers(list)
	}
	return env.Numbers(scalar)
}

func directionsOr(env *Envelope) ([]int, error) {
	if env.Has("directions") {
		return env.Directions("directions")
	}
	if _, isPolicy := env.fields["direction"].(string); isPolicy {
		return nil, nil
	}
	return env.Directions("direction")
}

// expand applies the broadcast rule to creation parameters.
func expand(key string, vals []float64, n int, def float64) ([]float64, error) {
	out := make([]float64, n)
	switch {
	case len(vals) == 0:
		for i := range out {
			out[i] = def
		}
	case len(vals) == 1:
		for i := range out {
			out[i] = vals[0]
		}
	case len(vals) == n:
		copy(out, vals)
	default:
		return nil, invalidParam(key, "%d values for %d ports", len(vals), n)
	}
	return out, nil
}
