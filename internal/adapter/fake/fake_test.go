package fake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/monitor-car/mcc/internal/adapter"
	"github.com/monitor-car/mcc/internal/adaptertest"
)

func TestFakeAdapterConformance(t *testing.T) {
	capabilities := adaptertest.Capabilities{
		MaxSpeed:          100,
		PositionTolerance: 0.001,
		InvalidSpeeds:     []float64{150, -5},
		InvalidPositions:  []float64{360, -1},
	}

	adaptertest.RunConformance(t, func() adapter.IMotorAdapter {
		return NewFakeAdapter("A")
	}, capabilities)
}

func TestFakeAdapterRecordsCalls(t *testing.T) {
	motor := NewFakeAdapter("B")
	ctx := context.Background()

	if err := motor.Start(ctx, 40, adapter.Reverse); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := motor.RunForDegrees(ctx, -720, 40); err != nil {
		t.Fatalf("RunForDegrees failed: %v", err)
	}

	calls := motor.Calls()
	if len(calls) != 2 {
		t.Fatalf("Expected 2 calls, got %d", len(calls))
	}
	if calls[0].Op != OpStart || calls[0].Args[0] != 40 || calls[0].Args[1] != -1 {
		t.Errorf("Unexpected first call: %+v", calls[0])
	}
	if calls[1].Port != "B" || calls[1].Args[0] != -720 {
		t.Errorf("Unexpected second call: %+v", calls[1])
	}

	speed, position := motor.GetCurrentState()
	if speed != -40 {
		t.Errorf("Expected speed -40, got %f", speed)
	}
	if position != -720 {
		t.Errorf("Expected position -720, got %f", position)
	}
}

func TestFakeAdapterFailOn(t *testing.T) {
	motor := NewFakeAdapter("A")
	ctx := context.Background()
	boom := errors.New("MOTOR_STALLED")

	motor.FailOn(OpRunToPosition, boom)
	if err := motor.RunToPosition(ctx, 90, 50); !errors.Is(err, boom) {
		t.Errorf("Expected injected failure, got %v", err)
	}

	motor.FailOn(OpRunToPosition, nil)
	if err := motor.RunToPosition(ctx, 90, 50); err != nil {
		t.Errorf("Expected failure cleared, got %v", err)
	}
}

func TestFakeAdapterErrorSimulation(t *testing.T) {
	motor := NewFakeAdapter("A")
	motor.SetErrorSimulation("BUSY")

	_, err := motor.Speed(context.Background())
	if err == nil || err.Error() != "BUSY: simulated busy error" {
		t.Errorf("Expected simulated busy error, got %v", err)
	}

	motor.DisableErrorSimulation()
	if _, err := motor.Speed(context.Background()); err != nil {
		t.Errorf("Expected no error after disabling simulation, got %v", err)
	}
}

func TestFakeAdapterBlock(t *testing.T) {
	motor := NewFakeAdapter("C")
	gate := motor.Block(OpRunForDegrees)

	done := make(chan error, 1)
	go func() {
		done <- motor.RunForDegrees(context.Background(), 90, 50)
	}()

	select {
	case port := <-gate.Entered:
		if port != "C" {
			t.Errorf("Expected port C at the gate, got %q", port)
		}
	case <-time.After(time.Second):
		t.Fatal("Call never reached the gate")
	}

	select {
	case <-done:
		t.Fatal("Call returned while gate was closed")
	case <-time.After(20 * time.Millisecond):
	}

	gate.Release()
	if err := <-done; err != nil {
		t.Errorf("Expected success after release, got %v", err)
	}
}

func TestFakeAdapterBlockHonorsContext(t *testing.T) {
	motor := NewFakeAdapter("A")
	motor.Block(OpStop)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := motor.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestDriver(t *testing.T) {
	driver := NewDriver()
	ctx := context.Background()

	first, err := driver.Open(ctx, "A")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	second, _ := driver.Open(ctx, "A")
	if first != second {
		t.Errorf("Expected the same adapter for the same port")
	}
	if driver.Adapter("A") != first {
		t.Errorf("Expected Adapter to return the opened adapter")
	}

	driver.FailOpen("D", adapter.ErrUnavailable)
	if _, err := driver.Open(ctx, "D"); !errors.Is(err, adapter.ErrUnavailable) {
		t.Errorf("Expected open failure, got %v", err)
	}

	opened := driver.Opened()
	if len(opened) != 2 || opened[0] != "A" || opened[1] != "A" {
		t.Errorf("Unexpected opened ports: %v", opened)
	}
}
