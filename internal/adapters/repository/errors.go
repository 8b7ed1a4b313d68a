package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrConflict = errors.New("cohort version conflict")
	ErrNotFound = errors.New("cohort not found")
	ErrClosed   = errors.New("store closed")
)
