package api

import (
	"context"
	"net/http"

	"github.com/monitor-car/mcc/internal/command"
	"github.com/monitor-car/mcc/internal/motor"
	"github.com/monitor-car/mcc/internal/telemetry"
)

// CommandPort executes command envelopes.
type CommandPort interface {
	Codecs() *command.Codecs
	Operations() []string
	DispatchCodec(ctx context.Context, codec command.Codec, raw []byte) command.Result
}

// MotorReadPort lists claimed motors.
type MotorReadPort interface {
	List() []motor.Info
	Ports() []string
}

// TelemetryPort streams telemetry to a client.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	ClientCount() int
}

var (
	_ CommandPort   = (*command.Dispatcher)(nil)
	_ MotorReadPort = (*motor.Registry)(nil)
	_ TelemetryPort = (*telemetry.Hub)(nil)
)
