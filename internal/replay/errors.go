package replay

import "errors"

var (
	// ErrUnhealthy is returned when the service health check fails.
	ErrUnhealthy = errors.New("service unhealthy")
	// ErrNoDays is returned when there is nothing to submit.
	ErrNoDays = errors.New("no days to replay")
	// ErrInconsistent is returned when a cohort count does not match the
	// number of accepted submissions.
	ErrInconsistent = errors.New("cohort count mismatch")
)
