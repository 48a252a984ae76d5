package command

import "github.com/monitor-car/mcc/internal/motor"

// Result is the synchronous outcome of one dispatched command.
type Result struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message,omitempty"`
	Error     string       `json:"error,omitempty"`
	Speed     *float64     `json:"speed,omitempty"`
	Position  *float64     `json:"position,omitempty"`
	Speeds    []float64    `json:"speeds,omitempty"`
	Positions []float64    `json:"positions,omitempty"`
	Motors    []motor.Info `json:"motors,omitempty"`
	Tasks     int          `json:"tasks,omitempty"`
	TaskIDs   []string     `json:"taskIds,omitempty"`

	// Err is the underlying error for callers that match with errors.Is.
	Err error `json:"-" cbor:"-"`
}

func ok(message string) Result {
	return Result{Success: true, Message: message}
}

func fail(err error) Result {
	return Result{Success: false, Error: err.Error(), Err: err}
}
