// Package adaptertest provides hardware-agnostic conformance testing for motor adapters.
//
//   - Every adapter must honor the six-call boundary and report range errors as INVALID_RANGE.
package adaptertest

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/monitor-car/mcc/internal/adapter"
)

// Capabilities defines the expected capabilities for conformance testing.
type Capabilities struct {
	MaxSpeed          float64
	PositionTolerance float64
	InvalidSpeeds     []float64
	InvalidPositions  []float64
}

// ConformanceResult represents the result of a conformance test.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Error    string
	Duration time.Duration
	Details  map[string]interface{}
}

// ConformanceReport represents the complete conformance test report.
type ConformanceReport struct {
	AdapterName   string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []ConformanceResult
	OverallPassed bool
	Duration      time.Duration
}

// RunConformance runs the complete conformance test suite for an adapter.
func RunConformance(t *testing.T, newAdapter func() adapter.IMotorAdapter, caps Capabilities) {
	startTime := time.Now()

	report := &ConformanceReport{
		AdapterName:   adapterName(newAdapter()),
		Results:       []ConformanceResult{},
		OverallPassed: true,
	}

	runReadTests(t, newAdapter, caps, report)
	runStartStopTests(t, newAdapter, caps, report)
	runRunForDegreesTests(t, newAdapter, caps, report)
	runRunToPositionTests(t, newAdapter, caps, report)
	runFailureMappingTests(t, newAdapter, caps, report)
	runIdempotencyTests(t, newAdapter, caps, report)
	runTimingTests(t, newAdapter, caps, report)

	report.Duration = time.Since(startTime)

	printConformanceReport(t, report)

	if !report.OverallPassed {
		t.Fatalf("Adapter conformance test failed: %d/%d tests passed", report.PassedTests, report.TotalTests)
	}
}

func runReadTests(t *testing.T, newAdapter func() adapter.IMotorAdapter, caps Capabilities, report *ConformanceReport) {
	motor := newAdapter()
	ctx := context.Background()

	result := ConformanceResult{TestName: "Reads_Basic", Details: make(map[string]interface{})}
	start := time.Now()

	speed, err1 := motor.Speed(ctx)
	position, err2 := motor.Position(ctx)
	result.Duration = time.Since(start)

	switch {
	case err1 != nil:
		result.Error = fmt.Sprintf("Speed failed: %v", err1)
	case err2 != nil:
		result.Error = fmt.Sprintf("Position failed: %v", err2)
	default:
		result.Passed = true
		result.Details["speed"] = speed
		result.Details["position"] = position
	}

	report.addResult(result)
}

func runStartStopTests(t *testing.T, newAdapter func() adapter.IMotorAdapter, caps Capabilities, report *ConformanceReport) {
	ctx := context.Background()

	for _, sense := range []adapter.Sense{adapter.Forward, adapter.Reverse} {
		motor := newAdapter()
		speed := caps.MaxSpeed / 2

		result := ConformanceResult{
			TestName: fmt.Sprintf("StartStop_Sense_%d", sense),
			Details:  make(map[string]interface{}),
		}
		start := time.Now()

		err := motor.Start(ctx, speed, sense)
		var reported float64
		if err == nil {
			reported, err = motor.Speed(ctx)
		}
		var stopped float64
		if err == nil {
			if err = motor.Stop(ctx); err == nil {
				stopped, err = motor.Speed(ctx)
			}
		}
		result.Duration = time.Since(start)

		switch {
		case err != nil:
			result.Error = fmt.Sprintf("Start/Stop failed: %v", err)
		case reported != 0 && adapter.SenseOf(reported) != sense:
			result.Error = fmt.Sprintf("Speed %f does not match sense %d", reported, sense)
		case stopped != 0:
			result.Error = fmt.Sprintf("Speed after Stop is %f, expected 0", stopped)
		default:
			result.Passed = true
			result.Details["speed"] = reported
		}

		report.addResult(result)
	}

	motor := newAdapter()
	for _, speed := range caps.InvalidSpeeds {
		result := ConformanceResult{
			TestName: fmt.Sprintf("Start_Invalid_%g", speed),
			Details:  make(map[string]interface{}),
		}
		start := time.Now()

		err := motor.Start(ctx, speed, adapter.Forward)
		result.Duration = time.Since(start)

		if err == nil {
			result.Error = fmt.Sprintf("Start(%g) should have failed", speed)
		} else if !isInvalidRangeError(err) {
			result.Error = fmt.Sprintf("Start(%g) returned wrong error type: %v", speed, err)
		} else {
			result.Passed = true
			result.Details["error"] = err.Error()
		}

		report.addResult(result)
	}
}

func runRunForDegreesTests(t *testing.T, newAdapter func() adapter.IMotorAdapter, caps Capabilities, report *ConformanceReport) {
	ctx := context.Background()

	for _, delta := range []float64{360, -90, 0} {
		motor := newAdapter()

		result := ConformanceResult{
			TestName: fmt.Sprintf("RunForDegrees_%g", delta),
			Details:  make(map[string]interface{}),
		}
		start := time.Now()

		before, err := motor.Position(ctx)
		if err == nil {
			err = motor.RunForDegrees(ctx, delta, caps.MaxSpeed)
		}
		var after float64
		if err == nil {
			after, err = motor.Position(ctx)
		}
		result.Duration = time.Since(start)

		if err != nil {
			result.Error = fmt.Sprintf("RunForDegrees(%g) failed: %v", delta, err)
		} else if math.Abs(after-before-delta) > caps.PositionTolerance {
			result.Error = fmt.Sprintf("Moved %g degrees, expected %g", after-before, delta)
		} else {
			result.Passed = true
			result.Details["position"] = after
		}

		report.addResult(result)
	}
}

func runRunToPositionTests(t *testing.T, newAdapter func() adapter.IMotorAdapter, caps Capabilities, report *ConformanceReport) {
	ctx := context.Background()
	motor := newAdapter()

	for _, target := range []float64{0, 90, 270} {
		result := ConformanceResult{
			TestName: fmt.Sprintf("RunToPosition_%g", target),
			Details:  make(map[string]interface{}),
		}
		start := time.Now()

		err := motor.RunToPosition(ctx, target, caps.MaxSpeed)
		var after float64
		if err == nil {
			after, err = motor.Position(ctx)
		}
		result.Duration = time.Since(start)

		reached := math.Mod(math.Mod(after, 360)+360, 360)
		if err != nil {
			result.Error = fmt.Sprintf("RunToPosition(%g) failed: %v", target, err)
		} else if math.Abs(reached-target) > caps.PositionTolerance {
			result.Error = fmt.Sprintf("Reached %g, expected %g", reached, target)
		} else {
			result.Passed = true
			result.Details["position"] = after
		}

		report.addResult(result)
	}

	for _, target := range caps.InvalidPositions {
		result := ConformanceResult{
			TestName: fmt.Sprintf("RunToPosition_Invalid_%g", target),
			Details:  make(map[string]interface{}),
		}
		start := time.Now()

		err := motor.RunToPosition(ctx, target, caps.MaxSpeed)
		result.Duration = time.Since(start)

		if err == nil {
			result.Error = fmt.Sprintf("RunToPosition(%g) should have failed", target)
		} else if !isInvalidRangeError(err) {
			result.Error = fmt.Sprintf("RunToPosition(%g) returned wrong error type: %v", target, err)
		} else {
			result.Passed = true
		}

		report.addResult(result)
	}
}

// runFailureMappingTests checks that a cancelled context is honored.
func runFailureMappingTests(t *testing.T, newAdapter func() adapter.IMotorAdapter, caps Capabilities, report *ConformanceReport) {
	motor := newAdapter()

	result := ConformanceResult{
		TestName: "FailureMapping_ContextCancellation",
		Details:  make(map[string]interface{}),
	}
	start := time.Now()

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	err := motor.RunForDegrees(cancelledCtx, 90, caps.MaxSpeed)
	result.Duration = time.Since(start)

	if err == nil {
		result.Error = "RunForDegrees with cancelled context should have failed"
	} else {
		result.Passed = true
		result.Details["error"] = err.Error()
	}

	report.addResult(result)
}

func runIdempotencyTests(t *testing.T, newAdapter func() adapter.IMotorAdapter, caps Capabilities, report *ConformanceReport) {
	motor := newAdapter()
	ctx := context.Background()

	result := ConformanceResult{
		TestName: "Idempotency_StopTwice",
		Details:  make(map[string]interface{}),
	}
	start := time.Now()

	err1 := motor.Stop(ctx)
	err2 := motor.Stop(ctx)
	result.Duration = time.Since(start)

	if err1 != nil {
		result.Error = fmt.Sprintf("First Stop failed: %v", err1)
	} else if err2 != nil {
		result.Error = fmt.Sprintf("Second Stop failed: %v", err2)
	} else {
		result.Passed = true
	}

	report.addResult(result)
}

// runTimingTests checks that reads do not block.
func runTimingTests(t *testing.T, newAdapter func() adapter.IMotorAdapter, caps Capabilities, report *ConformanceReport) {
	motor := newAdapter()

	result := ConformanceResult{
		TestName: "Timing_ReadsDoNotBlock",
		Details:  make(map[string]interface{}),
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := motor.Position(ctx)
	result.Duration = time.Since(start)

	if result.Duration > 50*time.Millisecond {
		result.Error = fmt.Sprintf("Position took too long: %v", result.Duration)
	} else if err != nil {
		result.Error = fmt.Sprintf("Unexpected error: %v", err)
	} else {
		result.Passed = true
		result.Details["duration"] = result.Duration.String()
	}

	report.addResult(result)
}

// Helper functions

func isInvalidRangeError(err error) bool {
	return strings.Contains(err.Error(), "INVALID_RANGE")
}

func adapterName(motor adapter.IMotorAdapter) string {
	if named, ok := motor.(adapter.Modeled); ok {
		return named.GetModel()
	}
	return fmt.Sprintf("%T", motor)
}

func (r *ConformanceReport) addResult(result ConformanceResult) {
	r.TotalTests++
	if result.Passed {
		r.PassedTests++
	} else {
		r.FailedTests++
		r.OverallPassed = false
	}
	r.Results = append(r.Results, result)
}

func printConformanceReport(t *testing.T, report *ConformanceReport) {
	t.Logf("\n%s", strings.Repeat("=", 80))
	t.Logf("ADAPTER CONFORMANCE REPORT")
	t.Logf("%s", strings.Repeat("=", 80))
	t.Logf("Adapter: %s", report.AdapterName)
	t.Logf("Total Tests: %d", report.TotalTests)
	t.Logf("Passed: %d", report.PassedTests)
	t.Logf("Failed: %d", report.FailedTests)
	t.Logf("Overall: %s", map[bool]string{true: "PASS", false: "FAIL"}[report.OverallPassed])
	t.Logf("Duration: %v", report.Duration)
	t.Logf("%s", strings.Repeat("-", 80))

	t.Logf("%-32s %-8s %-12s %-s", "TEST NAME", "RESULT", "DURATION", "DETAILS")
	t.Logf("%s", strings.Repeat("-", 80))

	for _, result := range report.Results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}

		details := result.Error
		if details == "" && len(result.Details) > 0 {
			var parts []string
			for k, v := range result.Details {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
			details = strings.Join(parts, ", ")
		}

		t.Logf("%-32s %-8s %-12s %-s", result.TestName, status, result.Duration.String(), details)
	}

	t.Logf("%s", strings.Repeat("=", 80))
}
