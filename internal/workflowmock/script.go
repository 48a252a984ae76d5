// Package workflowmock emulates the streaming workflow HTTP API for local
// runs and tests. A script of frames is replayed over stream_run; each
// interrupt frame ends the response and stream_resume continues after it.
package workflowmock

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Frame is one scripted event.
type Frame struct {
	// Message is emitted as plain message content.
	Message string `yaml:"message,omitempty"`
	// Command is emitted as message content encoded as a JSON envelope.
	Command map[string]interface{} `yaml:"command,omitempty"`
	// NodeIsFinish defaults to true.
	NodeIsFinish *bool `yaml:"nodeIsFinish,omitempty"`

	// Interrupt ends the current response with an Interrupt event.
	Interrupt     bool `yaml:"interrupt,omitempty"`
	InterruptType int  `yaml:"interruptType,omitempty"`
}

// Script is the frame sequence of one workflow.
type Script struct {
	WorkflowID string  `yaml:"workflowId"`
	Frames     []Frame `yaml:"frames"`
}

// LoadScript reads a YAML script.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	var s Script
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	for i := range s.Frames {
		if s.Frames[i].Command != nil {
			s.Frames[i].Command = stringKeys(s.Frames[i].Command).(map[string]interface{})
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// stringKeys converts the map[interface{}]interface{} values yaml.v2
// produces for nested mappings so the envelope can be JSON encoded.
func stringKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case map[string]interface{}:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = stringKeys(val)
		}
		return t
	default:
		return v
	}
}

// Validate checks that every frame is exactly one kind.
func (s *Script) Validate() error {
	for i, f := range s.Frames {
		kinds := 0
		if f.Message != "" {
			kinds++
		}
		if f.Command != nil {
			kinds++
		}
		if f.Interrupt {
			kinds++
		}
		if kinds != 1 {
			return fmt.Errorf("frame %d: exactly one of message, command or interrupt is required", i)
		}
	}
	return nil
}

// DemoScript drives two wheels forward, pauses at a checkpoint, then stops.
func DemoScript() *Script {
	return &Script{
		WorkflowID: "demo",
		Frames: []Frame{
			{Message: "claiming wheels"},
			{Command: map[string]interface{}{"type": "create_multiple_motors", "ports": []interface{}{"A", "B"}}},
			{Command: map[string]interface{}{"type": "run_motors_for_turns", "ports": []interface{}{"A", "B"}, "turns": 2, "speeds": 40, "directions": []interface{}{1, -1}}},
			{Interrupt: true, InterruptType: 3},
			{Command: map[string]interface{}{"type": "stop_motors", "ports": []interface{}{"A", "B"}}},
			{Message: "done"},
		},
	}
}
