package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates inputs failed validation before any call was made.
	ErrValidation = errors.New("validation error")
	// ErrNotFound indicates the referenced run or job does not exist (yet).
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness conflict in the registry.
	ErrConflict = errors.New("conflict")
	// ErrTransport indicates a network or storage failure on an external call.
	ErrTransport = errors.New("transport error")
	// ErrJobFailed is returned when the server reports a failed enrichment job.
	ErrJobFailed = errors.New("enrichment job failed")
	// ErrPollTimeout is returned when a running job made no progress for too long.
	ErrPollTimeout = errors.New("enrichment job stalled")

	ErrJobNotCompleted = errors.New("enrichment job not completed")
)

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, msg string) error { return &ValidationError{Field: field, Msg: msg} }

// TransportError wraps a failed external call with the operation name.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Transport wraps err as a TransportError unless it already carries a more
// specific classification.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) || errors.Is(err, ErrTransport) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &TransportError{Op: op, Err: err}
}
