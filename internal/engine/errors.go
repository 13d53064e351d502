package engine

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks run-level failures: a missing synchronization
// or an unusable configuration. These abort the whole run; record-level
// errors never carry this sentinel.
var ErrConfiguration = errors.New("configuration error")

// TransformationError is a record-level mapping failure. It is logged
// against the record and the run continues.
type TransformationError struct {
	Err error
}

func (e *TransformationError) Error() string { return fmt.Sprintf("transformation: %v", e.Err) }
func (e *TransformationError) Unwrap() error { return e.Err }

// ValidationError is a record-level schema failure.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: field %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("validation: %v", e.Err)
}
func (e *ValidationError) Unwrap() error { return e.Err }

// TargetWriteError is a record-level target rejection. The contract is
// left at its last-known-good hashes so the next scheduled run retries
// the record.
type TargetWriteError struct {
	Action string
	Err    error
}

func (e *TargetWriteError) Error() string {
	return fmt.Sprintf("target write (%s): %v", e.Action, e.Err)
}
func (e *TargetWriteError) Unwrap() error { return e.Err }
