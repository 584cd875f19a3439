package db

import "errors"

var (
	ErrNotFound      = errors.New("record not found")
	ErrStepIndex     = errors.New("step index out of sequence")
	ErrNoActiveStep  = errors.New("message has no active step")
	ErrStepNotActive = errors.New("step is not active")
)
