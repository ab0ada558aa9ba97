package models

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a resource the platform can no longer serve, such as
// an expired snapshot. Never retried: the data cannot come back.
var ErrNotFound = errors.New("not found")

// ErrAuth reports rejected credentials. Fatal to the pipeline; requires
// operator intervention, no automatic retry.
var ErrAuth = errors.New("authentication rejected")

// TransientError wraps network timeouts and 5xx-class failures from the
// external services. Retry-eligible, bounded by the max-attempt policy.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for the given operation
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// InferenceError reports a detector failure: model error, malformed image,
// resource exhaustion. Treated as inconclusive, never as a false positive.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// IsInference reports whether err is (or wraps) an InferenceError
func IsInference(err error) bool {
	var ie *InferenceError
	return errors.As(err, &ie)
}
