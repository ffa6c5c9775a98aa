package pipeline

import "errors"

var ErrReviewNotFound = errors.New("review not found")

// RunError reports an orchestrator-level failure. Retryable failures are
// worth another attempt by the job runner; fatal ones are not.
type RunError struct {
	Err       error
	Retryable bool
}

func (e *RunError) Error() string {
	return e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func NewRetryableError(err error) *RunError {
	return &RunError{Err: err, Retryable: true}
}

func NewFatalError(err error) *RunError {
	return &RunError{Err: err, Retryable: false}
}

// IsRetryable reports whether err, or an error it wraps, is a retryable RunError.
func IsRetryable(err error) bool {
	var runErr *RunError
	return errors.As(err, &runErr) && runErr.Retryable
}
