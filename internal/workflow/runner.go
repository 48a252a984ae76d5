package workflow

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/monitor-car/mcc/internal/audit"
	"github.com/monitor-car/mcc/internal/command"
	"github.com/monitor-car/mcc/internal/config"
	"github.com/monitor-car/mcc/internal/telemetry"
)

// Dispatcher executes command envelopes extracted from the stream.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw []byte) command.Result
}

// OutputKind classifies a surfaced output.
type OutputKind string

const (
	OutputText      OutputKind = "text"
	OutputResult    OutputKind = "result"
	OutputInterrupt OutputKind = "interrupt"
)

// Output is one item surfaced by the runner.
type Output struct {
	Kind         OutputKind
	Text         string
	Result       *command.Result
	Resume       *ResumeToken
	NodeFinished bool
}

// OutputFunc receives outputs in stream order.
type OutputFunc func(Output)

// Runner drives one workflow through its start and resume sessions.
type Runner struct {
	cfg        config.WorkflowConfig
	builder    RequestBuilder
	launcher   Launcher
	dispatcher Dispatcher
	publisher  telemetry.Publisher
	output     OutputFunc
	logger     *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBuilder replaces the curl request builder.
func WithBuilder(b RequestBuilder) RunnerOption {
	return func(r *Runner) { r.builder = b }
}

// WithLauncher replaces the exec launcher.
func WithLauncher(l Launcher) RunnerOption {
	return func(r *Runner) { r.launcher = l }
}

// WithPublisher sets the telemetry publisher.
func WithPublisher(p telemetry.Publisher) RunnerOption {
	return func(r *Runner) { r.publisher = p }
}

// WithOutput sets the output callback.
func WithOutput(fn OutputFunc) RunnerOption {
	return func(r *Runner) { r.output = fn }
}

// WithLogger sets the runner logger.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner for cfg feeding commands into dispatcher.
func NewRunner(cfg config.WorkflowConfig, dispatcher Dispatcher, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:        cfg,
		builder:    NewCurlBuilder(cfg),
		launcher:   ExecLauncher{},
		dispatcher: dispatcher,
		publisher:  telemetry.NopPublisher{},
		output:     func(Output) {},
		logger:     zap.NewNop(),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the workflow and reads it to completion. It returns nil when
// the last session ends cleanly, ctx.Err() on cancellation, or the error
// that stopped the run.
func (r *Runner) Run(ctx context.Context) error {
	req, err := r.builder.Start(r.cfg.ID)
	if err != nil {
		return errors.Wrap(err, "build start request")
	}
	stream, err := r.launch(ctx, req)
	if err != nil {
		return err
	}

	sess := &Session{WorkflowID: r.cfg.ID, Stream: stream}
	r.logger.Info("Workflow started", zap.String("workflow", sess.WorkflowID))

	for {
		next, done, err := r.readSession(ctx, sess)
		if done || err != nil {
			return err
		}
		sess = next
	}
}

// readSession reads sess until it ends or an interrupt produces the next
// session.
func (r *Runner) readSession(ctx context.Context, sess *Session) (*Session, bool, error) {
	stop := context.AfterFunc(ctx, func() { _ = sess.Stream.Close() })
	defer stop()

	for {
		line, err := sess.Stream.ReadLine()
		if err != nil {
			return nil, true, r.endSession(ctx, sess, err)
		}
		line = strings.TrimRight(line, "\r\n")

		// A marker switches state from anywhere, even while a data line
		// is still pending.
		switch line {
		case MarkerMessage:
			r.abandonPending(sess)
			sess.State = MessagePending
			continue
		case MarkerInterrupt:
			r.abandonPending(sess)
			sess.State = InterruptPending
			continue
		}

		switch sess.State {
		case MessagePending:
			if strings.TrimSpace(line) == "" {
				continue
			}
			sess.State = Idle
			r.handleMessage(ctx, sess, line)

		case InterruptPending:
			if strings.TrimSpace(line) == "" {
				continue
			}
			sess.State = Idle
			token, err := ParseInterrupt(line)
			if err != nil {
				r.logger.Warn("Skipping interrupt frame", zap.String("workflow", sess.WorkflowID), zap.Error(err))
				continue
			}
			next, err := r.resume(ctx, sess, token)
			if err != nil {
				_ = sess.Stream.Close()
				return nil, true, err
			}
			return next, false, nil
		}
	}
}

func (r *Runner) abandonPending(sess *Session) {
	if sess.State != Idle {
		r.logger.Warn("Marker without data frame", zap.String("workflow", sess.WorkflowID), zap.String("state", sess.State.String()))
	}
}

func (r *Runner) endSession(ctx context.Context, sess *Session, readErr error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		_ = sess.Stream.Close()
		return ctxErr
	}
	if !errors.Is(readErr, io.EOF) {
		_ = sess.Stream.Close()
		return errors.Wrap(readErr, "read workflow stream")
	}
	if err := sess.Stream.Wait(); err != nil {
		return errors.Wrap(err, "workflow process")
	}
	r.logger.Info("Workflow finished",
		zap.String("workflow", sess.WorkflowID),
		zap.Int("resumes", sess.Resumes))
	return nil
}

func (r *Runner) handleMessage(ctx context.Context, sess *Session, line string) {
	msg, err := ParseMessage(line)
	if err != nil {
		r.logger.Warn("Skipping message frame", zap.String("workflow", sess.WorkflowID), zap.Error(err))
		return
	}

	raw, ok := msg.Envelope()
	if !ok {
		r.output(Output{Kind: OutputText, Text: msg.Content, NodeFinished: msg.NodeIsFinish})
		r.publish(telemetry.EventWorkflowMessage, map[string]interface{}{
			"workflow":     sess.WorkflowID,
			"content":      msg.Content,
			"nodeFinished": msg.NodeIsFinish,
		})
		return
	}

	dctx := audit.WithSource(ctx, audit.SourceWorkflow)
	dctx = audit.WithActor(dctx, "workflow:"+sess.WorkflowID)
	res := r.dispatcher.Dispatch(dctx, raw)
	if !res.Success {
		r.logger.Warn("Workflow command failed",
			zap.String("workflow", sess.WorkflowID),
			zap.String("error", res.Error))
	}

	r.output(Output{Kind: OutputResult, Text: msg.Content, Result: &res, NodeFinished: msg.NodeIsFinish})
	r.publish(telemetry.EventWorkflowCommand, map[string]interface{}{
		"workflow": sess.WorkflowID,
		"command":  msg.Content,
		"success":  res.Success,
		"message":  res.Message,
		"error":    res.Error,
	})
}

// resume discards sess and launches the session that continues from token.
func (r *Runner) resume(ctx context.Context, sess *Session, token ResumeToken) (*Session, error) {
	r.output(Output{Kind: OutputInterrupt, Resume: &token})
	r.publish(telemetry.EventWorkflowInterrupt, map[string]interface{}{
		"workflow":      sess.WorkflowID,
		"eventId":       token.EventID,
		"interruptType": token.InterruptType,
	})

	if limit := r.cfg.MaxResumes; limit > 0 && sess.Resumes >= limit {
		return nil, errors.Wrapf(ErrResumeLimit, "workflow %s resumed %d times", sess.WorkflowID, sess.Resumes)
	}

	req, err := r.builder.Resume(sess.WorkflowID, token)
	if err != nil {
		return nil, errors.Wrap(err, "build resume request")
	}
	_ = sess.Stream.Close()

	stream, err := r.launch(ctx, req)
	if err != nil {
		return nil, err
	}

	next := &Session{
		WorkflowID: sess.WorkflowID,
		Resume:     &token,
		Resumes:    sess.Resumes + 1,
		Stream:     stream,
	}
	r.logger.Info("Workflow resumed",
		zap.String("workflow", next.WorkflowID),
		zap.Stringer("token", token),
		zap.Int("resumes", next.Resumes))
	r.publish(telemetry.EventWorkflowResumed, map[string]interface{}{
		"workflow": next.WorkflowID,
		"eventId":  token.EventID,
		"resumes":  next.Resumes,
	})
	return next, nil
}

// launch starts req, retrying with exponential backoff.
func (r *Runner) launch(ctx context.Context, req Request) (Stream, error) {
	attempts := r.cfg.LaunchAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := r.cfg.ReconnectInitial

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		stream, err := r.launcher.Launch(ctx, req)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		r.logger.Warn("Workflow launch failed",
			zap.Int("attempt", attempt),
			zap.Int("attempts", attempts),
			zap.Error(err))

		if attempt == attempts {
			break
		}
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay = r.nextDelay(delay)
	}
	return nil, errors.Wrapf(ErrLaunchFailed, "%d attempts: %v", attempts, lastErr)
}

func (r *Runner) nextDelay(d time.Duration) time.Duration {
	factor := r.cfg.ReconnectBackoff
	if factor < 1 {
		factor = 1
	}
	next := time.Duration(float64(d) * factor)
	if r.cfg.ReconnectMax > 0 && next > r.cfg.ReconnectMax {
		next = r.cfg.ReconnectMax
	}
	return next
}

func (r *Runner) publish(eventType string, data map[string]interface{}) {
	if err := r.publisher.Publish(telemetry.Event{Type: eventType, Data: data}); err != nil {
		r.logger.Debug("Telemetry publish failed", zap.String("type", eventType), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
