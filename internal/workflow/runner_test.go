package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monitor-car/mcc/internal/adapter/fake"
	"github.com/monitor-car/mcc/internal/audit"
	"github.com/monitor-car/mcc/internal/command"
	"github.com/monitor-car/mcc/internal/config"
	"github.com/monitor-car/mcc/internal/motion"
	"github.com/monitor-car/mcc/internal/motor"
)

// scriptStream replays lines, then either ends or blocks until closed.
type scriptStream struct {
	mu      sync.Mutex
	lines   []string
	hold    bool
	waitErr error
	closed  chan struct{}
	once    sync.Once
}

func newScript(lines ...string) *scriptStream {
	return &scriptStream{lines: lines, closed: make(chan struct{})}
}

func (s *scriptStream) ReadLine() (string, error) {
	s.mu.Lock()
	if len(s.lines) > 0 {
		line := s.lines[0]
		s.lines = s.lines[1:]
		s.mu.Unlock()
		return line, nil
	}
	hold := s.hold
	s.mu.Unlock()

	if hold {
		<-s.closed
	}
	return "", io.EOF
}

func (s *scriptStream) Wait() error { return s.waitErr }

func (s *scriptStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// scriptLauncher hands out streams in order and records every request.
type scriptLauncher struct {
	mu       sync.Mutex
	streams  []*scriptStream
	failures int
	requests []Request
}

func (l *scriptLauncher) Launch(_ context.Context, req Request) (Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if l.failures > 0 {
		l.failures--
		return nil, errors.New("exec: curl: not found")
	}
	if len(l.streams) == 0 {
		return newScript(), nil
	}
	s := l.streams[0]
	l.streams = l.streams[1:]
	return s, nil
}

func (l *scriptLauncher) launched() []Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Request(nil), l.requests...)
}

type dispatched struct {
	raw    string
	source string
	actor  string
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, raw []byte) command.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatched{
		raw:    string(raw),
		source: audit.SourceFrom(ctx),
		actor:  audit.ActorFrom(ctx),
	})
	return command.Result{Success: true, Message: "ok"}
}

func testConfig() config.WorkflowConfig {
	cfg := config.Default().Workflow
	cfg.ID = "wf-1"
	cfg.Token = "secret"
	return cfg
}

type harness struct {
	runner   *Runner
	launcher *scriptLauncher
	disp     *recordingDispatcher
	outputs  []Output
	sleeps   []time.Duration
}

func newHarness(cfg config.WorkflowConfig, streams ...*scriptStream) *harness {
	h := &harness{
		launcher: &scriptLauncher{streams: streams},
		disp:     &recordingDispatcher{},
	}
	h.runner = NewRunner(cfg, h.disp,
		WithLauncher(h.launcher),
		WithOutput(func(o Output) { h.outputs = append(h.outputs, o) }))
	h.runner.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func TestInterruptTriggersSingleResume(t *testing.T) {
	first := newScript(
		"event: Interrupt",
		`data: {"interrupt_data":{"event_id":"42","type":3}}`,
		"lines after the interrupt belong to a discarded session",
	)
	first.hold = true
	h := newHarness(testConfig(), first, newScript())

	require.NoError(t, h.runner.Run(context.Background()))

	reqs := h.launcher.launched()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[0].Args, "https://api.coze.cn/v1/workflow/stream_run")
	assert.Contains(t, reqs[1].Args, "https://api.coze.cn/v1/workflow/stream_resume")

	resume := body(t, reqs[1])
	assert.Equal(t, "42", resume["event_id"])
	assert.Equal(t, float64(3), resume["interrupt_type"])
	assert.Equal(t, "wf-1", resume["workflow_id"])

	assert.True(t, first.isClosed(), "the interrupted session must be discarded")
	assert.Empty(t, h.disp.calls)
	require.Len(t, h.outputs, 1)
	assert.Equal(t, OutputInterrupt, h.outputs[0].Kind)
}

func TestMessageDispatchesEmbeddedCommand(t *testing.T) {
	h := newHarness(testConfig(), newScript(
		"event: Message",
		`data: {"content":"{\"type\":\"stop\",\"port\":\"A\"}","node_is_finish":true}`,
	))

	require.NoError(t, h.runner.Run(context.Background()))

	require.Len(t, h.disp.calls, 1)
	assert.JSONEq(t, `{"type":"stop","port":"A"}`, h.disp.calls[0].raw)
	assert.Equal(t, audit.SourceWorkflow, h.disp.calls[0].source)
	assert.Equal(t, "workflow:wf-1", h.disp.calls[0].actor)

	require.Len(t, h.outputs, 1)
	assert.Equal(t, OutputResult, h.outputs[0].Kind)
	require.NotNil(t, h.outputs[0].Result)
	assert.True(t, h.outputs[0].Result.Success)
}

func TestMarkerOverridesPendingState(t *testing.T) {
	h := newHarness(testConfig(),
		newScript(
			"event: Message",
			"event: Interrupt",
			`data: {"interrupt_data":{"event_id":"42","type":3}}`,
		),
		newScript(
			"event: Interrupt",
			"event: Message",
			`data: {"content":"{\"type\":\"stop\",\"port\":\"A\"}","node_is_finish":true}`,
		),
	)

	require.NoError(t, h.runner.Run(context.Background()))

	reqs := h.launcher.launched()
	require.Len(t, reqs, 2, "the interrupt after a bare message marker must resume")
	assert.Equal(t, "42", body(t, reqs[1])["event_id"])

	require.Len(t, h.disp.calls, 1)
	assert.JSONEq(t, `{"type":"stop","port":"A"}`, h.disp.calls[0].raw)
}

func TestPlainTextAndNoiseLines(t *testing.T) {
	h := newHarness(testConfig(), newScript(
		"id: 0",
		"data: {\"content\":\"ignored outside a pending state\"}",
		"",
		"event: Message\r",
		"",
		`data: {"content":"turning left","node_is_finish":false}`,
		"event: Message",
		"data: {broken",
		"event: Interrupt",
		`data: {"interrupt_data":{}}`,
		"event: Done",
	))

	require.NoError(t, h.runner.Run(context.Background()))

	assert.Empty(t, h.disp.calls)
	assert.Len(t, h.launcher.launched(), 1, "a malformed interrupt must not reconnect")
	require.Len(t, h.outputs, 1)
	assert.Equal(t, Output{Kind: OutputText, Text: "turning left"}, h.outputs[0])
}

func TestResumeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxResumes = 2

	interrupt := func(id string) *scriptStream {
		return newScript("event: Interrupt", `data: {"interrupt_data":{"event_id":"`+id+`","type":1}}`)
	}
	h := newHarness(cfg, interrupt("1"), interrupt("2"), interrupt("3"))

	err := h.runner.Run(context.Background())
	assert.ErrorIs(t, err, ErrResumeLimit)
	assert.Len(t, h.launcher.launched(), 3)
}

func TestLaunchBackoff(t *testing.T) {
	h := newHarness(testConfig(), newScript())
	h.launcher.failures = 2

	require.NoError(t, h.runner.Run(context.Background()))
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, h.sleeps)
	assert.Len(t, h.launcher.launched(), 3)
}

func TestLaunchBackoffCapped(t *testing.T) {
	cfg := testConfig()
	cfg.LaunchAttempts = 4
	cfg.ReconnectInitial = 4 * time.Second
	cfg.ReconnectMax = 10 * time.Second

	h := newHarness(cfg)
	h.launcher.failures = 10

	err := h.runner.Run(context.Background())
	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second, 10 * time.Second}, h.sleeps)
	assert.Len(t, h.launcher.launched(), 4)
}

func TestProcessExitError(t *testing.T) {
	s := newScript("event: Message", `data: {"content":"partial"}`)
	s.waitErr = errors.New("exit status 22")
	h := newHarness(testConfig(), s)

	err := h.runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 22")
}

func TestRunCancelled(t *testing.T) {
	s := newScript()
	s.hold = true
	h := newHarness(testConfig(), s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.runner.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop on cancellation")
	}
	assert.True(t, s.isClosed())
}

func TestRunnerDrivesDispatcher(t *testing.T) {
	driver := fake.NewDriver()
	registry := motor.NewRegistry(driver, nil)
	t.Cleanup(func() { _ = registry.ReleaseAll() })
	d, err := command.NewDispatcher(registry, motion.NewSynchronizer(motion.DefaultDefaults(), nil))
	require.NoError(t, err)

	create, _ := json.Marshal(map[string]string{"content": `{"type":"create_motor","port":"A"}`})
	turns, _ := json.Marshal(map[string]string{"content": `{"type":"run_for_turns","port":"A","turns":1,"speed":30}`})
	h := newHarness(testConfig(), newScript(
		"event: Message", "data: "+string(create),
		"event: Message", "data: "+string(turns),
	))
	h.runner.dispatcher = d

	require.NoError(t, h.runner.Run(context.Background()))

	require.Len(t, h.outputs, 2)
	for _, o := range h.outputs {
		require.NotNil(t, o.Result)
		assert.True(t, o.Result.Success, o.Result.Error)
	}
	calls := driver.Adapter("A").CallsFor(fake.OpRunForDegrees)
	require.Len(t, calls, 1)
	assert.Equal(t, []float64{360, 30}, calls[0].Args)
}
