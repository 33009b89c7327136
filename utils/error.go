package utils

import (
	"errors"
	"fmt"
)

// ErrorRecordNotFound is returned when a referenced deal/stage/pipeline/account
// is absent. Surfaced to the caller, no side effects.
var ErrorRecordNotFound = errors.New("record not found")

// ErrorVersionConflict is returned when an optimistic version check fails:
// the record changed between read and write. Callers should re-read and retry.
var ErrorVersionConflict = errors.New("record was modified concurrently")

// ValidationError marks malformed input or an invariant violation
// (cross-pipeline stage, negative value, missing loss reason, ...).
// The triggering mutation is never applied.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func Validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
