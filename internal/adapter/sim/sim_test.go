package sim

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/monitor-car/mcc/internal/adapter"
	"github.com/monitor-car/mcc/internal/adaptertest"
)

func TestSimMotor_Conformance(t *testing.T) {
	capabilities := adaptertest.Capabilities{
		MaxSpeed:          100,
		PositionTolerance: 0.001,
		InvalidSpeeds:     []float64{101, -1},
		InvalidPositions:  []float64{360, -0.5},
	}

	adaptertest.RunConformance(t, func() adapter.IMotorAdapter {
		return NewMotor("A", Options{})
	}, capabilities)
}

func TestSimMotor_IntegratesPositionWhileRunning(t *testing.T) {
	motor := NewMotor("A", Options{RatedDPS: 360})
	clock := time.Unix(1000, 0)
	motor.now = func() time.Time { return clock }
	motor.SetCurrentState(0, 0)
	ctx := context.Background()

	if err := motor.Start(ctx, 50, adapter.Reverse); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	clock = clock.Add(2 * time.Second)

	position, err := motor.Position(ctx)
	if err != nil {
		t.Fatalf("Position failed: %v", err)
	}
	if position != -360 {
		t.Errorf("Expected position -360 after 2s at half speed reverse, got %f", position)
	}

	if err := motor.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	clock = clock.Add(time.Second)
	if _, position := motor.GetCurrentState(); position != -360 {
		t.Errorf("Expected position to hold at -360 after stop, got %f", position)
	}
}

func TestSimMotor_RunToPositionTakesShortestPath(t *testing.T) {
	motor := NewMotor("A", Options{})
	motor.SetCurrentState(0, 710) // 350 normalized
	ctx := context.Background()

	if err := motor.RunToPosition(ctx, 10, 50); err != nil {
		t.Fatalf("RunToPosition failed: %v", err)
	}

	_, position := motor.GetCurrentState()
	if position != 730 {
		t.Errorf("Expected cumulative position 730, got %f", position)
	}
}

func TestSimMotor_FaultInjection(t *testing.T) {
	motor := NewMotor("B", Options{})
	ctx := context.Background()

	tests := []struct {
		mode     string
		expected error
	}{
		{FaultBusy, adapter.ErrBusy},
		{FaultStalled, adapter.ErrBusy},
		{FaultUnavailable, adapter.ErrUnavailable},
		{FaultInvalidRange, adapter.ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			motor.SetFaultMode(tt.mode)
			defer motor.ClearFaultMode()

			err := motor.Stop(ctx)
			if err == nil {
				t.Fatalf("Expected fault for mode %s", tt.mode)
			}
			normalized := adapter.NormalizeHardwareErrorWithFamily("B", "Stop", err, "buildhat")
			if !errors.Is(normalized, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, normalized)
			}
		})
	}
}

func TestSimMotor_ScopedFault(t *testing.T) {
	motor := NewMotor("A", Options{})
	ctx := context.Background()

	motor.SetFaultMode(FaultStalled, "RunToPosition")

	if err := motor.RunToPosition(ctx, 90, 50); err == nil || !strings.Contains(err.Error(), "MOTOR_STALLED") {
		t.Errorf("Expected stall on RunToPosition, got %v", err)
	}
	if err := motor.RunForDegrees(ctx, 90, 50); err != nil {
		t.Errorf("Expected RunForDegrees to be unaffected, got %v", err)
	}
}

func TestSimMotor_RealtimeHonorsContext(t *testing.T) {
	motor := NewMotor("A", Options{RatedDPS: 1, Realtime: true})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := motor.RunForDegrees(ctx, 360, 100); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if _, position := motor.GetCurrentState(); position != 0 {
		t.Errorf("Expected no movement after cancelled move, got %f", position)
	}
}

func TestSimMotor_Concurrency(t *testing.T) {
	motor := NewMotor("A", Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = motor.RunForDegrees(ctx, 10, 50)
			_, _ = motor.Position(ctx)
		}()
	}
	wg.Wait()

	if _, position := motor.GetCurrentState(); position != 200 {
		t.Errorf("Expected position 200, got %f", position)
	}
}

func TestDriver(t *testing.T) {
	driver := NewDriver([]string{"A", "B"}, Options{})
	ctx := context.Background()

	motor, err := driver.Open(ctx, "A")
	if err != nil {
		t.Fatalf("Open(A) failed: %v", err)
	}
	if motor != adapter.IMotorAdapter(driver.Motor("A")) {
		t.Errorf("Expected Open to return the wired motor")
	}

	_, err = driver.Open(ctx, "Z")
	if err == nil {
		t.Fatal("Expected Open(Z) to fail")
	}
	normalized := adapter.NormalizeHardwareErrorWithFamily("Z", "Open", err, "buildhat")
	if !errors.Is(normalized, adapter.ErrUnavailable) {
		t.Errorf("Expected UNAVAILABLE, got %v", normalized)
	}
}
