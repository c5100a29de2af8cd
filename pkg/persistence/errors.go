package persistence

import "errors"

// Standard persistence error kinds shared by all implementations. Callers
// branch on these to distinguish "not found" (referential violations
// included) from "already exists" (constraint violations).
var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrRunNotFound      = errors.New("run not found")
	ErrStepNotFound     = errors.New("step not found")

	ErrRunAlreadyExists  = errors.New("run already exists")
	ErrStepAlreadyExists = errors.New("step already exists")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrPipelineNotFound) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrStepNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrRunAlreadyExists) ||
		errors.Is(err, ErrStepAlreadyExists)
}
