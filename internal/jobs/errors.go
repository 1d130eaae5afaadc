package jobs

import "errors"

var (
	// ErrInvalid is wrapped by every Submit validation error.
	ErrInvalid = errors.New("invalid job request")

	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("job not found")

	// ErrNotTerminal is returned when clearing or retrying an active job.
	ErrNotTerminal = errors.New("job is not finished")

	// ErrNoPendingChoice is returned by Resolve when the job is not waiting on a choice.
	ErrNoPendingChoice = errors.New("job has no pending choice")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("scheduler is shut down")
)
