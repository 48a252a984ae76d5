package workflow

import "github.com/pkg/errors"

var (
	// ErrMalformedFrame marks a data line that could not be parsed. The
	// runner logs it and keeps reading.
	ErrMalformedFrame = errors.New("MALFORMED_FRAME")

	// ErrResumeLimit is returned when a run needs more resumes than allowed.
	ErrResumeLimit = errors.New("RESUME_LIMIT")

	// ErrLaunchFailed is returned when the child process cannot be started
	// within the configured number of attempts.
	ErrLaunchFailed = errors.New("LAUNCH_FAILED")
)
