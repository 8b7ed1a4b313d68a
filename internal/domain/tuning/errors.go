package tuning

import "errors"

// Sentinel kinds for tuning errors.
var (
	ErrRetriesExhausted = errors.New("cohort commit retries exhausted")
	ErrNotFound         = errors.New("cohort not found")
	ErrInvalidRequest   = errors.New("invalid tuning request")
)
