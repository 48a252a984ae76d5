package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNormalizeHardwareError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		family       string
		expectedCode error
	}{
		{name: "nil error returns nil", err: nil, family: "generic", expectedCode: nil},
		{name: "unknown token maps to INTERNAL", err: errors.New("SOMETHING_ODD"), family: "generic", expectedCode: ErrInternal},
		{name: "generic range", err: errors.New("value OUT_OF_RANGE"), family: "generic", expectedCode: ErrInvalidRange},
		{name: "generic busy", err: errors.New("motor busy"), family: "generic", expectedCode: ErrBusy},
		{name: "generic unavailable", err: errors.New("port offline"), family: "generic", expectedCode: ErrUnavailable},
		{name: "buildhat stalled", err: fmt.Errorf("MOTOR_STALLED: load too high"), family: "buildhat", expectedCode: ErrBusy},
		{name: "buildhat no device", err: fmt.Errorf("NO_DEVICE on port C"), family: "buildhat", expectedCode: ErrUnavailable},
		{name: "buildhat speed", err: fmt.Errorf("SPEED_OUT_OF_RANGE: 140"), family: "buildhat", expectedCode: ErrInvalidRange},
		{name: "unknown family falls back to generic", err: errors.New("BUSY"), family: "lego-ev3", expectedCode: ErrBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeHardwareErrorWithFamily("A", "Start", tt.err, tt.family)

			if tt.expectedCode == nil {
				if result != nil {
					t.Errorf("Expected nil, got %v", result)
				}
				return
			}

			hwErr, ok := result.(*HardwareError)
			if !ok {
				t.Fatalf("Expected HardwareError, got %T", result)
			}
			if hwErr.Code != tt.expectedCode {
				t.Errorf("Expected code %v, got %v", tt.expectedCode, hwErr.Code)
			}
			if !errors.Is(result, tt.expectedCode) {
				t.Errorf("errors.Is(%v, %v) = false", result, tt.expectedCode)
			}
			if !errors.Is(result, ErrHardwareCallFailed) {
				t.Errorf("Expected result to match ErrHardwareCallFailed")
			}
			if hwErr.Original != tt.err {
				t.Errorf("Expected original error to be preserved")
			}
		})
	}
}

func TestNormalizeHardwareErrorIsIdempotent(t *testing.T) {
	first := NormalizeHardwareError("B", "Stop", errors.New("BUSY"))
	second := NormalizeHardwareError("B", "Stop", fmt.Errorf("retry: %w", first))

	var hwErr *HardwareError
	if !errors.As(second, &hwErr) {
		t.Fatalf("Expected HardwareError in chain, got %T", second)
	}
	if hwErr != first {
		t.Errorf("Expected the first HardwareError to be kept, got a new one")
	}
}

func TestHardwareErrorMessage(t *testing.T) {
	err := &HardwareError{
		Port:     "A",
		Op:       "RunToPosition",
		Code:     ErrBusy,
		Original: errors.New("MOTOR_BUSY"),
		Fallback: errors.New("MOTOR_STALLED"),
	}

	expected := "BUSY: RunToPosition on port A: MOTOR_BUSY (fallback: MOTOR_STALLED)"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}
}

func TestSenseOf(t *testing.T) {
	if SenseOf(-3) != Reverse {
		t.Errorf("Expected Reverse for negative value")
	}
	if SenseOf(0) != Forward || SenseOf(50) != Forward {
		t.Errorf("Expected Forward for non-negative values")
	}
}

func TestDriverFunc(t *testing.T) {
	var opened string
	driver := DriverFunc(func(ctx context.Context, port string) (IMotorAdapter, error) {
		opened = port
		return nil, ErrUnavailable
	})

	_, err := driver.Open(context.Background(), "D")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
	if opened != "D" {
		t.Errorf("Expected driver to open port D, got %q", opened)
	}
}
