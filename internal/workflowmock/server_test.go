package workflowmock

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monitor-car/mcc/internal/adapter/fake"
	"github.com/monitor-car/mcc/internal/command"
	"github.com/monitor-car/mcc/internal/config"
	"github.com/monitor-car/mcc/internal/motion"
	"github.com/monitor-car/mcc/internal/motor"
	"github.com/monitor-car/mcc/internal/workflow"
)

func post(t *testing.T, url, token, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(out)
}

func TestStreamStopsAtInterrupt(t *testing.T) {
	mock := NewServer(DemoScript(), WithToken("dev"))
	ts := httptest.NewServer(mock.Handler())
	defer ts.Close()

	resp, body := post(t, ts.URL+StreamRunPath, "dev", `{"workflow_id":"demo","parameters":{"head_input":""}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 3, strings.Count(body, "event: Message\n"))
	assert.Contains(t, body, "event: Interrupt\n"+`data: {"interrupt_data":{"event_id":"3","type":3}}`)
	assert.NotContains(t, body, "stop_motors")

	resp, body = post(t, ts.URL+StreamResumePath, "dev", `{"workflow_id":"demo","event_id":"3","interrupt_type":3,"resume_data":"next"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "stop_motors")
	assert.True(t, strings.HasSuffix(body, "event: Done\ndata: {}\n\n"))

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, Call{Path: StreamResumePath, WorkflowID: "demo", EventID: "3", InterruptType: 3, ResumeData: "next"}, calls[1])
}

func TestRequestValidation(t *testing.T) {
	ts := httptest.NewServer(NewServer(DemoScript(), WithToken("dev")).Handler())
	defer ts.Close()

	tests := []struct {
		name   string
		path   string
		token  string
		body   string
		status int
	}{
		{"missing token", StreamRunPath, "", `{"workflow_id":"demo"}`, http.StatusUnauthorized},
		{"unknown workflow", StreamRunPath, "dev", `{"workflow_id":"other"}`, http.StatusNotFound},
		{"malformed body", StreamRunPath, "dev", `{`, http.StatusBadRequest},
		{"resume non-interrupt frame", StreamResumePath, "dev", `{"workflow_id":"demo","event_id":"1","interrupt_type":3}`, http.StatusBadRequest},
		{"resume wrong type", StreamResumePath, "dev", `{"workflow_id":"demo","event_id":"3","interrupt_type":1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := post(t, ts.URL+tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workflowId: wf-1
frames:
  - message: hello
    nodeIsFinish: false
  - command:
      type: run_to_position
      port: A
      position: 90
      direction-policy: clockwise
  - interrupt: true
    interruptType: 2
`), 0o600))

	script, err := LoadScript(path)
	require.NoError(t, err)
	require.Len(t, script.Frames, 3)
	assert.Equal(t, "clockwise", script.Frames[1].Command["direction-policy"])

	event, payload, err := encodeFrame(1, script.Frames[1])
	require.NoError(t, err)
	assert.Equal(t, "Message", event)
	assert.Contains(t, string(payload), `\"type\":\"run_to_position\"`)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("frames:\n  - message: x\n    interrupt: true\n"), 0o600))
	_, err = LoadScript(bad)
	assert.Error(t, err)
}

// requireCurl returns a curl binary that understands --fail-with-body.
func requireCurl(t *testing.T) string {
	t.Helper()
	curl, err := exec.LookPath("curl")
	if err != nil {
		t.Skip("curl not available")
	}
	if err := exec.Command(curl, "--fail-with-body", "--version").Run(); err != nil {
		t.Skip("curl does not support --fail-with-body")
	}
	return curl
}

// TestCurlRunnerEndToEnd drives the real runner, curl and dispatcher
// against the mock.
func TestCurlRunnerEndToEnd(t *testing.T) {
	curl := requireCurl(t)

	mock := NewServer(DemoScript(), WithToken("dev"))
	ts := httptest.NewServer(mock.Handler())
	defer ts.Close()

	driver := fake.NewDriver()
	registry := motor.NewRegistry(driver, nil)
	t.Cleanup(func() { _ = registry.ReleaseAll() })
	dispatcher, err := command.NewDispatcher(registry, motion.NewSynchronizer(motion.DefaultDefaults(), nil))
	require.NoError(t, err)

	cfg := config.Default().Workflow
	cfg.ID = "demo"
	cfg.BaseURL = ts.URL
	cfg.Token = "dev"
	cfg.CurlPath = curl

	var texts bytes.Buffer
	runner := workflow.NewRunner(cfg, dispatcher, workflow.WithOutput(func(o workflow.Output) {
		if o.Kind == workflow.OutputResult {
			assert.True(t, o.Result.Success, o.Result.Error)
		}
		if o.Kind == workflow.OutputText {
			texts.WriteString(o.Text + "\n")
		}
	}))
	require.NoError(t, runner.Run(context.Background()))

	assert.Equal(t, "claiming wheels\ndone\n", texts.String())
	assert.Len(t, mock.Calls(), 2)

	a := driver.Adapter("A").CallsFor(fake.OpRunForDegrees)
	b := driver.Adapter("B").CallsFor(fake.OpRunForDegrees)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, []float64{720, 40}, a[0].Args)
	assert.Equal(t, []float64{-720, 40}, b[0].Args)
	assert.NotEmpty(t, driver.Adapter("A").CallsFor(fake.OpStop))
}

func TestCurlRunnerRejectedToken(t *testing.T) {
	curl := requireCurl(t)

	mock := NewServer(DemoScript(), WithToken("dev"))
	ts := httptest.NewServer(mock.Handler())
	defer ts.Close()

	disp := &countingDispatcher{}
	cfg := config.Default().Workflow
	cfg.ID = "demo"
	cfg.BaseURL = ts.URL
	cfg.Token = "wrong"
	cfg.CurlPath = curl

	err := workflow.NewRunner(cfg, disp).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow process")
	assert.Zero(t, disp.n)
}

type countingDispatcher struct{ n int }

func (d *countingDispatcher) Dispatch(context.Context, []byte) command.Result {
	d.n++
	return command.Result{Success: true}
}
