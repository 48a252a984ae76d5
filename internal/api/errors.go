package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/monitor-car/mcc/internal/adapter"
	"github.com/monitor-car/mcc/internal/auth"
	"github.com/monitor-car/mcc/internal/command"
	"github.com/monitor-car/mcc/internal/kinematics"
	"github.com/monitor-car/mcc/internal/motion"
	"github.com/monitor-car/mcc/internal/motor"
)

// errorMapping pairs a sentinel with its API code and HTTP status.
type errorMapping struct {
	target error
	code   string
	status int
}

// Ordered: the first match wins.
var errorMappings = []errorMapping{
	{auth.ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized},
	{auth.ErrForbidden, "FORBIDDEN", http.StatusForbidden},
	{command.ErrUnknownChannel, "UNKNOWN_CHANNEL", http.StatusNotFound},
	{motor.ErrNotClaimed, "UNKNOWN_CHANNEL", http.StatusNotFound},
	{command.ErrMissingType, "MISSING_TYPE", http.StatusBadRequest},
	{command.ErrUnknownOperation, "UNKNOWN_OPERATION", http.StatusBadRequest},
	{command.ErrMalformedEnvelope, "MALFORMED_ENVELOPE", http.StatusBadRequest},
	{command.ErrInvalidParameter, "INVALID_PARAMETER", http.StatusBadRequest},
	{motion.ErrParameterCount, "INVALID_PARAMETER", http.StatusBadRequest},
	{kinematics.ErrInvalidCircumference, "INVALID_PARAMETER", http.StatusBadRequest},
	{kinematics.ErrUnknownPolicy, "INVALID_PARAMETER", http.StatusBadRequest},
	{motor.ErrInvalidPort, "INVALID_PORT", http.StatusBadRequest},
	{motor.ErrAlreadyClaimed, "ALREADY_CLAIMED", http.StatusConflict},
	{adapter.ErrInvalidRange, "INVALID_RANGE", http.StatusBadRequest},
	{adapter.ErrBusy, "BUSY", http.StatusServiceUnavailable},
	{adapter.ErrUnavailable, "UNAVAILABLE", http.StatusServiceUnavailable},
	{context.DeadlineExceeded, "TIMEOUT", http.StatusGatewayTimeout},
	{adapter.ErrInternal, "INTERNAL", http.StatusInternalServerError},
}

// ToAPIError maps err to an API error code and HTTP status.
func ToAPIError(err error) (string, int) {
	if err == nil {
		return "", http.StatusOK
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.code, m.status
		}
	}
	return "INTERNAL", http.StatusInternalServerError
}

// writeAuthError renders middleware failures in the API envelope.
func writeAuthError(w http.ResponseWriter, _ *http.Request, status int, err error) {
	code, _ := ToAPIError(err)
	message := "Authentication required"
	if status == http.StatusForbidden {
		message = "Insufficient permissions"
	}
	WriteError(w, status, code, message, nil)
}
