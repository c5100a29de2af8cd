package services

import "errors"

var (
	ErrPipelineDisabled = errors.New("pipeline is disabled")
	ErrRunNotRetryable  = errors.New("run is not in a terminal state")
	ErrInvalidStep      = errors.New("invalid step definition")
)

func IsValidationError(err error) bool {
	return errors.Is(err, ErrPipelineDisabled) ||
		errors.Is(err, ErrRunNotRetryable) ||
		errors.Is(err, ErrInvalidStep)
}
