package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/monitor-car/mcc/internal/audit"
	"github.com/monitor-car/mcc/internal/config"
	"github.com/monitor-car/mcc/internal/kinematics"
	"github.com/monitor-car/mcc/internal/motion"
	"github.com/monitor-car/mcc/internal/motor"
	"github.com/monitor-car/mcc/internal/telemetry"
)

// request carries one envelope through its handler. Handlers record the
// channels they touch in ports for the audit trail.
type request struct {
	env   *Envelope
	ports []string
}

type handlerFunc func(ctx context.Context, req *request) (Result, error)

// Dispatcher routes command envelopes to motor handles and the synchronizer.
type Dispatcher struct {
	registry      *motor.Registry
	syncer        *motion.Synchronizer
	codecs        *Codecs
	timing        config.TimingConfig
	circumference float64
	defaultPorts  []string

	audit     audit.Recorder
	publisher telemetry.Publisher
	logger    *zap.Logger

	handlers map[string]handlerFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithAudit sets the audit recorder.
func WithAudit(rec audit.Recorder) Option {
	return func(d *Dispatcher) { d.audit = rec }
}

// WithPublisher sets the telemetry publisher.
func WithPublisher(pub telemetry.Publisher) Option {
	return func(d *Dispatcher) { d.publisher = pub }
}

// WithTiming sets the per-class command timeouts.
func WithTiming(timing config.TimingConfig) Option {
	return func(d *Dispatcher) { d.timing = timing }
}

// WithCircumference sets the wheel circumference used when a creation
// command does not name one.
func WithCircumference(cm float64) Option {
	return func(d *Dispatcher) { d.circumference = cm }
}

// NewDispatcher creates a dispatcher over registry and syncer.
func NewDispatcher(registry *motor.Registry, syncer *motion.Synchronizer, opts ...Option) (*Dispatcher, error) {
	codecs, err := NewCodecs()
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		registry:      registry,
		syncer:        syncer,
		codecs:        codecs,
		timing:        config.LoadTimingBaseline(),
		circumference: kinematics.DefaultWheelCircumference,
		defaultPorts:  []string{"A", "B"},
		publisher:     telemetry.NopPublisher{},
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("dispatcher")
	d.registerHandlers()
	return d, nil
}

func (d *Dispatcher) registerHandlers() {
	d.handlers = map[string]handlerFunc{
		"create_motor":           d.createMotor,
		"create_channel":         d.createMotor,
		"create_multiple_motors": d.createMotors,
		"create_channels":        d.createMotors,

		"run_for_turns":    d.runForTurns,
		"run_to_position":  d.runToPosition,
		"run_forever":      d.runForever,
		"run_for_distance": d.runForDistance,
		"stop":             d.stop,
		"get_speed":        d.getSpeed,
		"get_position":     d.getPosition,
		"release":          d.release,

		"run_motors_for_turns":     d.runMotorsForTurns,
		"run_motors_to_positions":  d.runMotorsToPositions,
		"stop_motors":              d.stopMotors,
		"run_motors_forever":       d.runMotorsForever,
		"run_motors_for_distances": d.runMotorsForDistances,
		"get_motors_speeds":        d.getMotorsSpeeds,
		"get_motors_positions":     d.getMotorsPositions,

		"release_all":       d.releaseAll,
		"release_all_ports": d.releaseAll,
		"list_motors":       d.listMotors,
	}
}

// Operations returns every accepted command type, sorted.
func (d *Dispatcher) Operations() []string {
	ops := make([]string, 0, len(d.handlers))
	for op := range d.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Codecs returns the codec registry used by DispatchCodec callers.
func (d *Dispatcher) Codecs() *Codecs {
	return d.codecs
}

// Dispatch decodes a JSON envelope and executes it.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) Result {
	return d.DispatchCodec(ctx, d.codecs.Default(), raw)
}

// DispatchCodec decodes raw with codec and executes the envelope.
func (d *Dispatcher) DispatchCodec(ctx context.Context, codec Codec, raw []byte) Result {
	start := time.Now()

	fields, err := codec.Decode(raw)
	if err != nil {
		return d.finish(ctx, "invalid", &request{}, Result{}, err, start)
	}
	env, err := NewEnvelope(fields)
	if err != nil {
		return d.finish(ctx, "invalid", &request{}, Result{}, err, start)
	}
	return d.dispatch(ctx, env, start)
}

// DispatchEnvelope executes an already parsed envelope.
func (d *Dispatcher) DispatchEnvelope(ctx context.Context, env *Envelope) Result {
	return d.dispatch(ctx, env, time.Now())
}

func (d *Dispatcher) dispatch(ctx context.Context, env *Envelope, start time.Time) Result {
	req := &request{env: env}

	handler, found := d.handlers[env.Type]
	if !found {
		return d.finish(ctx, env.Type, req, Result{}, fmt.Errorf("%w: %s", ErrUnknownOperation, env.Type), start)
	}

	d.logger.Debug("dispatching command", zap.String("type", env.Type), zap.Strings("keys", env.Keys()))
	res, err := handler(ctx, req)
	return d.finish(ctx, env.Type, req, res, err, start)
}

// finish audits the command, publishes faults and builds the failure result.
func (d *Dispatcher) finish(ctx context.Context, action string, req *request, res Result, err error, start time.Time) Result {
	latency := time.Since(start)

	var params map[string]interface{}
	if req.env != nil {
		params = req.env.Params()
	}
	if d.audit != nil {
		d.audit.LogAction(ctx, action, req.ports, params, err, latency)
	}

	if err == nil {
		d.logger.Debug("command succeeded", zap.String("type", action), zap.Duration("latency", latency))
		return res
	}

	d.logger.Warn("command failed",
		zap.String("type", action),
		zap.Strings("ports", req.ports),
		zap.Duration("latency", latency),
		zap.Error(err))

	ports := req.ports
	var unknown *UnknownChannelError
	if errors.As(err, &unknown) {
		ports = nil
	}
	if len(ports) == 0 {
		_ = d.publisher.Publish(telemetry.FaultEvent("", action, err))
	}
	for _, port := range ports {
		_ = d.publisher.PublishChannel(port, telemetry.FaultEvent(port, action, err))
	}
	return fail(err)
}

// lookup resolves claimed handles for ports.
func (d *Dispatcher) lookup(req *request, ports ...string) ([]*motor.Handle, error) {
	req.ports = ports
	handles, err := d.registry.Lookup(ports...)
	if err != nil {
		return nil, channelError(err)
	}
	return handles, nil
}

func (d *Dispatcher) lookupOne(req *request) (*motor.Handle, error) {
	port, err := req.env.String("port", "A")
	if err != nil {
		return nil, err
	}
	handles, err := d.lookup(req, port)
	if err != nil {
		return nil, err
	}
	return handles[0], nil
}

func (d *Dispatcher) lookupGroup(req *request) ([]*motor.Handle, error) {
	ports, err := req.env.Strings("ports", d.defaultPorts)
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, invalidParam("ports", "at least one port is required")
	}
	return d.lookup(req, ports...)
}

// policy resolves the seek policy. "direction-policy" wins over a string
// "direction"; an integer direction is not a policy.
func (d *Dispatcher) policy(env *Envelope) (kinematics.Policy, error) {
	name, err := env.String("direction-policy", "")
	if err != nil {
		return 0, err
	}
	if name == "" {
		if s, isString := env.fields["direction"].(string); isString {
			name = s
		}
	}
	policy, err := kinematics.ParsePolicy(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}
	return policy, nil
}

func (d *Dispatcher) publishChannels(ports []string, eventType string, data map[string]interface{}) {
	for _, port := range ports {
		_ = d.publisher.PublishChannel(port, telemetry.Event{Type: eventType, Data: data})
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// syncErr marks synchronizer parameter-shape errors as invalid parameters.
func syncErr(err error) error {
	if errors.Is(err, motion.ErrParameterCount) {
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}
	return err
}
